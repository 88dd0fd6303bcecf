// Package wallet holds per-wallet balance state and the fund-availability
// transitions.
//
// Reserve earmarks funds against a pending transaction without touching the
// balance; Settle releases the reservation and the balance together on
// execution. There is no standalone release transition: a transaction that
// never executes keeps its funds reserved. Under these transitions
// 0 <= ReservedBalance <= Balance always holds.
package wallet
