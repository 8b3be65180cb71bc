package gomvn

import (
	"fmt"
	"hash/fnv"
	"time"

	"gorgonia.org/gorgonia"
)

// SimpleHash constructs the 32-bit FNV-1a hash of a Gorgonia Op.
// Taken from Gorgonia.
func SimpleHash(op gorgonia.Op) uint32 {
	h := fnv.New32a()
	op.WriteHash(h)
	return h.Sum32()
}

// CheckArity returns an error if the number of inputs does not match
// the arity of op.
func CheckArity(op gorgonia.Op, inputs int) error {
	if inputs != op.Arity() && op.Arity() >= 0 {
		return fmt.Errorf("%v has an arity of %d. Got %d instead", op,
			op.Arity(), inputs)
	}
	return nil
}

// UnixNano appends an _ followed by the current Unix time in
// nanoseconds to name
func UnixNano(name string) string {
	return fmt.Sprintf("%v_%v", name, time.Now().UnixNano())
}
