// Package restart paces daemon restart attempts.
//
// A Tracker records daemon exits against a Policy and answers the two
// questions the supervisor asks after a crash: how long to wait before
// the next spawn, and whether the daemon has now failed often enough
// within the retry window that restarting should stop. Delays double
// from an initial value up to a cap, and each delay carries uniform
// jitter so daemons that crash together do not restart in lockstep.
// A run that survives the stability window wipes the failure history.
package restart
