package wait

import "time"

// Configuration is a function which sets a value on the given Options.
type Configuration func(options *Options)

// Options holds the configurable values of a wait operation.
type Options struct {
	RetryInterval time.Duration
	Timeout       time.Duration
}

// newOptions returns the default Options with the given configurations
// applied on top.
func newOptions(configurations ...Configuration) *Options {
	options := defaults()
	for _, configuration := range configurations {
		configuration(options)
	}
	return options
}

// RetryInterval sets how long to wait between polls.
func RetryInterval(retryInterval time.Duration) Configuration {
	return func(options *Options) {
		options.RetryInterval = retryInterval
	}
}

// Timeout sets how long to poll before giving up.
func Timeout(timeout time.Duration) Configuration {
	return func(options *Options) {
		options.Timeout = timeout
	}
}

// defaults returns the Options used when a caller does not override them.
func defaults() *Options {
	return &Options{
		RetryInterval: 2 * time.Second,
		Timeout:       2 * time.Minute,
	}
}
