package gate

// Check is a named predicate evaluated as part of a step's gate.
// Required checks decide the gate; non-required checks are evaluated
// only so their outcome lands in the result metrics.
type Check struct {
	Name      string
	Required  bool
	Predicate func() (bool, error)
}

func (c Check) eval() (bool, error) {
	if c.Predicate == nil {
		return false, errNilPredicate(c.Name)
	}
	return c.Predicate()
}

// EvaluateEntry evaluates entry criteria in order. It stops at the first
// required check that is false and returns false together with that check's
// name. Checks after the deciding one are never evaluated. A predicate
// error aborts evaluation.
func EvaluateEntry(checks []Check, metrics map[string]float64) (bool, string, error) {
	for _, c := range checks {
		ok, err := c.eval()
		if err != nil {
			return false, c.Name, err
		}
		record(metrics, c.Name, ok)
		if !ok && c.Required {
			return false, c.Name, nil
		}
	}
	return true, "", nil
}

// EvaluateBlocking evaluates blocking conditions with any-semantics: the
// first check that is true makes the whole set true. An empty set is false.
func EvaluateBlocking(checks []Check, metrics map[string]float64) (bool, string, error) {
	for _, c := range checks {
		ok, err := c.eval()
		if err != nil {
			return false, c.Name, err
		}
		record(metrics, c.Name, ok)
		if ok {
			return true, c.Name, nil
		}
	}
	return false, "", nil
}

func record(metrics map[string]float64, name string, ok bool) {
	if metrics == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1.0
	}
	metrics["check."+name] = v
}
