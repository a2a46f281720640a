package respsvc

var defaultQueryOptions = queryOptions{
	waitRelease: true,
	clear:       true,
}

type queryOptions struct {
	values      []any
	channel     *int
	waitRelease bool
	clear       bool
}

type QueryOption func(*queryOptions)

// WithValues restricts a query to records whose value is in the given
// set. An empty set matches everything.
func WithValues(values ...any) QueryOption {
	return func(o *queryOptions) {
		o.values = values
	}
}

// WithChannel restricts a query to one channel index.
func WithChannel(channel int) QueryOption {
	return func(o *queryOptions) {
		o.channel = &channel
	}
}

// WaitRelease selects completed presses (true, the default) or presses
// still down (false). A query for completed presses before any release
// has arrived returns an empty list, never a partial record.
func WaitRelease(wait bool) QueryOption {
	return func(o *queryOptions) {
		o.waitRelease = wait
	}
}

// Clear controls whether matched records are removed from history as
// they are returned (true, the default) or left for future queries.
func Clear(clear bool) QueryOption {
	return func(o *queryOptions) {
		o.clear = clear
	}
}

func (o *queryOptions) matches(r *Response) bool {
	if o.waitRelease != (r.Duration != nil) {
		return false
	}
	if o.channel != nil && *o.channel != r.Channel {
		return false
	}
	if len(o.values) == 0 {
		return true
	}
	for _, v := range o.values {
		if v == r.Value {
			return true
		}
	}
	return false
}
