package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// Logical document keys.
const (
	KeyProducts = "products"
	KeySales    = "sales"
	KeyUndo     = "undo"
)

const defaultOpTimeout = 3 * time.Second

// Medium is one backing layer for raw JSON documents. Read returns
// ErrNotFound when the key is absent.
type Medium interface {
	Name() string
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, value []byte) error
}

// Documents is the persistence contract consumed by the catalog and ledger.
type Documents interface {
	Put(ctx context.Context, key string, doc any) error
	Get(ctx context.Context, key string, dst any) (bool, error)
}

// Replicated writes every document to a primary medium and, best-effort,
// to a secondary medium. There is no atomicity across the two media.
type Replicated struct {
	primary   Medium
	secondary Medium
	prefix    string
	timeout   time.Duration
	logger    *zap.Logger
}

type Option func(*Replicated)

// WithKeyPrefix namespaces every key at the medium boundary.
func WithKeyPrefix(prefix string) Option {
	return func(r *Replicated) { r.prefix = prefix }
}

func WithTimeout(timeout time.Duration) Option {
	return func(r *Replicated) {
		if timeout > 0 {
			r.timeout = timeout
		}
	}
}

// NewReplicated builds the document store. secondary may be nil, in which
// case the primary is the only copy.
func NewReplicated(primary Medium, secondary Medium, logger *zap.Logger, opts ...Option) *Replicated {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Replicated{
		primary:   primary,
		secondary: secondary,
		timeout:   defaultOpTimeout,
		logger:    logger.Named("store"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Put encodes doc once and writes it to both media. It fails with
// ErrPersistenceUnavailable only when no medium accepted the write.
func (r *Replicated) Put(ctx context.Context, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	name := r.prefix + key
	primaryErr := r.write(ctx, r.primary, name, payload)
	if primaryErr != nil {
		r.logger.Warn("primary write failed", zap.String("key", key), zap.String("medium", r.primary.Name()), zap.Error(primaryErr))
	}

	if r.secondary == nil {
		if primaryErr != nil {
			return fmt.Errorf("%w: %s: %w", ErrPersistenceUnavailable, key, primaryErr)
		}
		return nil
	}

	secondaryErr := r.write(ctx, r.secondary, name, payload)
	if secondaryErr != nil {
		r.logger.Warn("secondary write failed", zap.String("key", key), zap.String("medium", r.secondary.Name()), zap.Error(secondaryErr))
	}
	if primaryErr != nil && secondaryErr != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistenceUnavailable, key, errors.Join(primaryErr, secondaryErr))
	}
	return nil
}

// Get decodes the primary copy into dst, falling back to the secondary copy.
// A missing or unparseable copy counts as absent at that layer, and so does
// a layer that fails to read. dst is only assigned on success.
//
// When no layer yields a document, found is false. err is nil if every
// layer answered, and wraps ErrPersistenceUnavailable if any layer could
// not be read: the document may exist but is out of reach.
func (r *Replicated) Get(ctx context.Context, key string, dst any) (bool, error) {
	name := r.prefix + key
	var readErrs []error
	for _, medium := range []Medium{r.primary, r.secondary} {
		if medium == nil {
			continue
		}
		raw, err := r.read(ctx, medium, name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				r.logger.Warn("read failed", zap.String("key", key), zap.String("medium", medium.Name()), zap.Error(err))
				readErrs = append(readErrs, fmt.Errorf("%s: %w", medium.Name(), err))
			}
			continue
		}
		if len(raw) == 0 {
			continue
		}
		if err := decodeInto(raw, dst); err != nil {
			r.logger.Warn("discarding unparseable document", zap.String("key", key), zap.String("medium", medium.Name()), zap.Error(err))
			continue
		}
		return true, nil
	}
	if len(readErrs) > 0 {
		return false, fmt.Errorf("%w: read %s: %w", ErrPersistenceUnavailable, key, errors.Join(readErrs...))
	}
	return false, nil
}

func (r *Replicated) write(ctx context.Context, medium Medium, key string, payload []byte) error {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return medium.Write(opCtx, key, payload)
}

func (r *Replicated) read(ctx context.Context, medium Medium, key string) ([]byte, error) {
	opCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return medium.Read(opCtx, key)
}

func decodeInto(raw []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.New("destination must be a non-nil pointer")
	}
	fresh := reflect.New(rv.Elem().Type())
	if err := json.Unmarshal(raw, fresh.Interface()); err != nil {
		return err
	}
	rv.Elem().Set(fresh.Elem())
	return nil
}
