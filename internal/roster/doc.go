// Package roster turns the configured daemon set into start-ordered
// descriptors. Daemons are grouped into waves by dependency depth: a
// wave starts only after every daemon in the previous wave is running,
// and shutdown walks the same order in reverse.
package roster
