package crashpipe

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxDataKey ctxKey = iota + 1
)

type ctxData struct {
	UserID  string
	Context map[string]interface{}
}

// WithUserID attaches the ID of the user affected by any crash reported with
// the returned context. It takes precedence over Configuration.UserID.
func WithUserID(ctx context.Context, userID string) context.Context {
	if ctx == nil {
		return nil
	}
	cd := getAttachedContextData(ctx).clone()
	cd.UserID = userID
	return context.WithValue(ctx, ctxDataKey, cd)
}

// WithContext attaches a single key and value to the extra context of any
// crash reported with the returned context. Extra context ends up in the
// hardware_specs of the report and overrides probe values with the same key.
func WithContext(ctx context.Context, key string, value interface{}) context.Context {
	if ctx == nil {
		return nil
	}
	cd := getAttachedContextData(ctx).clone()
	cd.Context[key] = value
	return context.WithValue(ctx, ctxDataKey, cd)
}

// WithContextMap is like WithContext for several keys at once.
func WithContextMap(ctx context.Context, data map[string]interface{}) context.Context {
	if ctx == nil {
		return nil
	}
	cd := getAttachedContextData(ctx).clone()
	for k, v := range data {
		cd.Context[k] = v
	}
	return context.WithValue(ctx, ctxDataKey, cd)
}

// ExtraContext pulls out the extra context attached to the given ctx.
func ExtraContext(ctx context.Context) map[string]interface{} {
	return getAttachedContextData(ctx).Context
}

// extractContextData merges the data attached to ctx with the data attached
// to the contexts of any *Error in err's chain. Data attached deeper in the
// chain, i.e. closer to where the error happened, wins.
func extractContextData(ctx context.Context, err error) *ctxData {
	data := getAttachedContextData(ctx).clone()
	for e := err; e != nil; e = errors.Unwrap(e) {
		berr, ok := e.(*Error)
		if !ok || berr.ctx == nil {
			continue
		}
		inner := getAttachedContextData(berr.ctx)
		if inner.UserID != "" {
			data.UserID = inner.UserID
		}
		for k, v := range inner.Context {
			data.Context[k] = v
		}
	}
	return data
}

func (cd *ctxData) clone() *ctxData {
	c := &ctxData{UserID: cd.UserID, Context: make(map[string]interface{}, len(cd.Context))}
	for k, v := range cd.Context {
		c.Context[k] = v
	}
	return c
}

func getAttachedContextData(ctx context.Context) *ctxData {
	if ctx != nil {
		if val := ctx.Value(ctxDataKey); val != nil {
			return val.(*ctxData) // nolint:forcetypeassert // This is safe. We own the key => we own the type
		}
	}
	return &ctxData{} // nolint:exhaustivestruct // this saves lots of nil checks elsewhere
}
