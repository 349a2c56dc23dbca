package functions

import "github.com/hashicorp/go-multierror"

// RunSequentially executes a series of functions sequentially. If any function
// returns an error, an early exit happens. The first parameter indicates if
// the functions should run in the order provided. A value of false indicates
// they should run in reverse.
func RunSequentially(inOrder bool, funcs ...func() error) error {
	if inOrder {
		return runInOrder(funcs...)
	}
	return runReversed(funcs...)
}

// RunBestEffort executes every function in reverse order even when earlier
// ones fail, accumulating all errors. Teardown uses this so that one failed
// cleanup does not prevent the remaining resources from being released.
func RunBestEffort(funcs ...func() error) error {
	var result *multierror.Error
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func runInOrder(funcs ...func() error) error {
	for _, fn := range funcs {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func runReversed(funcs ...func() error) error {
	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			return err
		}
	}
	return nil
}
