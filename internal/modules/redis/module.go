// Package redis exposes a Redis key/value cache as the
// modules.cache.redisClient namespace.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/FreePeak/db-dispatch-server/pkg/dispatch"
	apperrors "github.com/FreePeak/db-dispatch-server/pkg/errors"
	"github.com/FreePeak/db-dispatch-server/pkg/logger"
)

// Path is the module path of the cache namespace
const Path = "modules.cache.redisClient"

// Module binds the namespace methods to a KV
type Module struct {
	kv KV
}

// New creates the module over kv
func New(kv KV) *Module {
	return &Module{kv: kv}
}

func kvError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}
	logger.Error("redis %s failed: %v", op, err)
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, goredis.ErrClosed) {
		return apperrors.Wrap(apperrors.ConnectionLost, "cache is unreachable", err)
	}
	return apperrors.Wrap(apperrors.BackingStore, op+" failed", err)
}

func keyParam() dispatch.Param {
	return dispatch.Param{Name: "key", Type: dispatch.TypeString, Required: true}
}

func keysParam() dispatch.Param {
	return dispatch.Param{Name: "keys", Type: dispatch.TypeStringArray, Required: true}
}

// Namespace declares the cache operations
func (m *Module) Namespace() *dispatch.Namespace {
	return &dispatch.Namespace{
		Path:        Path,
		Description: "Redis key/value cache",
		Methods: []*dispatch.Method{
			{
				Name:        "get",
				Description: "Return the value stored at key or null",
				Params:      []dispatch.Param{keyParam()},
				Handler:     m.get,
			},
			{
				Name:        "set",
				Description: "Store a value; non-string values are stored as JSON",
				Params: []dispatch.Param{
					keyParam(),
					{Name: "value", Type: dispatch.TypeAny, Required: true},
					{Name: "ttl_seconds", Type: dispatch.TypeInteger, Default: int64(0), Description: "0 keeps the key forever"},
				},
				Handler: m.set,
			},
			{
				Name:        "delete",
				Description: "Delete keys and return how many existed",
				Params:      []dispatch.Param{keysParam()},
				Handler:     m.delete,
			},
			{
				Name:        "exists",
				Description: "Count how many of keys exist",
				Params:      []dispatch.Param{keysParam()},
				Handler:     m.exists,
			},
			{
				Name:        "expire",
				Description: "Set a key's time to live",
				Params: []dispatch.Param{
					keyParam(),
					{Name: "ttl_seconds", Type: dispatch.TypeInteger, Required: true},
				},
				Handler: m.expire,
			},
			{
				Name:        "incr",
				Description: "Increment the integer at key",
				Params:      []dispatch.Param{keyParam()},
				Handler:     m.incr,
			},
			{
				Name:        "keys",
				Description: "List keys matching a glob pattern",
				Params: []dispatch.Param{
					{Name: "pattern", Type: dispatch.TypeString, Default: "*"},
					{Name: "limit", Type: dispatch.TypeInteger, Default: int64(1000)},
				},
				Handler: m.keys,
			},
		},
	}
}

func (m *Module) get(ctx context.Context, args dispatch.Args) (interface{}, error) {
	v, ok, err := m.kv.Get(ctx, args.String("key"))
	if err != nil {
		return nil, kvError("get", err)
	}
	if !ok {
		return nil, nil
	}
	return v, nil
}

func encodeValue(v interface{}) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", apperrors.Wrap(apperrors.InvalidParameter, "value cannot be encoded", err)
	}
	return string(b), nil
}

const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

func ttl(args dispatch.Args) (time.Duration, error) {
	secs := args.Int("ttl_seconds")
	if secs < 0 {
		return 0, apperrors.New(apperrors.InvalidParameter, "ttl_seconds must not be negative")
	}
	if secs > maxTTLSeconds {
		return 0, apperrors.Newf(apperrors.InvalidParameter, "ttl_seconds must not exceed %d", maxTTLSeconds)
	}
	return time.Duration(secs) * time.Second, nil
}

func (m *Module) set(ctx context.Context, args dispatch.Args) (interface{}, error) {
	value, err := encodeValue(args["value"])
	if err != nil {
		return nil, err
	}
	d, err := ttl(args)
	if err != nil {
		return nil, err
	}
	if err := m.kv.Set(ctx, args.String("key"), value, d); err != nil {
		return nil, kvError("set", err)
	}
	return true, nil
}

func (m *Module) delete(ctx context.Context, args dispatch.Args) (interface{}, error) {
	keys := args.Strings("keys")
	if len(keys) == 0 {
		return int64(0), nil
	}
	n, err := m.kv.Del(ctx, keys...)
	if err != nil {
		return nil, kvError("delete", err)
	}
	return n, nil
}

func (m *Module) exists(ctx context.Context, args dispatch.Args) (interface{}, error) {
	keys := args.Strings("keys")
	if len(keys) == 0 {
		return int64(0), nil
	}
	n, err := m.kv.Exists(ctx, keys...)
	if err != nil {
		return nil, kvError("exists", err)
	}
	return n, nil
}

func (m *Module) expire(ctx context.Context, args dispatch.Args) (interface{}, error) {
	d, err := ttl(args)
	if err != nil {
		return nil, err
	}
	ok, err := m.kv.Expire(ctx, args.String("key"), d)
	if err != nil {
		return nil, kvError("expire", err)
	}
	return ok, nil
}

func (m *Module) incr(ctx context.Context, args dispatch.Args) (interface{}, error) {
	n, err := m.kv.Incr(ctx, args.String("key"))
	if err != nil {
		return nil, kvError("incr", err)
	}
	return n, nil
}

func (m *Module) keys(ctx context.Context, args dispatch.Args) (interface{}, error) {
	limit := args.Int("limit")
	if limit < 0 {
		return nil, apperrors.New(apperrors.InvalidParameter, "limit must not be negative")
	}
	keys, err := m.kv.Scan(ctx, args.String("pattern"), limit)
	if err != nil {
		return nil, kvError("keys", err)
	}
	sort.Strings(keys)
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// Ping reports whether the cache is reachable
func (m *Module) Ping(ctx context.Context) error {
	return m.kv.Ping(ctx)
}
