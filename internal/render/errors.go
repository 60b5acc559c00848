package render

import "errors"

var (
	// ErrConfig marks a render that cannot run because of the view
	// configuration: unknown fields, bad timezone identifiers, unsupported
	// row plugins.
	ErrConfig = errors.New("configuration error")

	// ErrMalformedData marks stored values the pipeline cannot interpret,
	// such as unparseable date text.
	ErrMalformedData = errors.New("malformed stored data")
)
