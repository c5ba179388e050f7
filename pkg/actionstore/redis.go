package actionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// expiredGrace keeps a key alive past its logical expiry so Redeem can
// report Expired instead of NotFound for a short window. After the grace
// the native TTL collects the key.
const expiredGrace = time.Minute

// envelope is the stored JSON shape. Unix timestamps let the Lua script
// do the expiry check without parsing RFC 3339.
type envelope struct {
	Action      contracts.PendingAction `json:"action"`
	PrincipalID string                  `json:"principal_id"`
	CreatedUnix int64                   `json:"created_unix"`
	ExpiresUnix int64                   `json:"expires_unix"`
	Consumed    bool                    `json:"consumed"`
}

// redeemScript performs the check-and-consume atomically server-side, so
// exactly-once redemption holds across processes. The scope check runs
// before consumption: a denied caller does not burn the ticket.
var redeemScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
    return {"notfound", ""}
end
local e = cjson.decode(raw)
local owner = e["principal_id"] or ""
if owner ~= "" and owner ~= ARGV[1] then
    return {"denied", ""}
end
if tonumber(ARGV[2]) > tonumber(e["expires_unix"]) then
    return {"expired", ""}
end
if e["consumed"] then
    return {"consumed", ""}
end
e["consumed"] = true
redis.call("SET", KEYS[1], cjson.encode(e), "KEEPTTL")
return {"ok", raw}
`)

// RedisStore implements Store on a shared redis instance, for
// deployments where preview and confirm may land on different processes.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore creates a store over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

func actionKey(id string) string { return "chantier:action:" + id }

func indexKey(principalID string) string {
	if principalID == "" {
		principalID = "_"
	}
	return "chantier:actions:" + principalID
}

func (s *RedisStore) Put(ctx context.Context, action *contracts.PendingAction) error {
	e := envelope{
		Action:      *action,
		PrincipalID: action.PrincipalID,
		CreatedUnix: action.CreatedAt.Unix(),
		ExpiresUnix: action.ExpiresAt.Unix(),
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return contracts.WrapTransient(err)
	}
	ttl := time.Until(action.ExpiresAt) + expiredGrace

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, actionKey(action.ID), raw, ttl)
	pipe.ZAdd(ctx, indexKey(action.PrincipalID), redis.Z{
		Score:  float64(e.CreatedUnix),
		Member: action.ID,
	})
	pipe.Expire(ctx, indexKey(action.PrincipalID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return contracts.WrapTransient(err)
	}
	return nil
}

func (s *RedisStore) Peek(ctx context.Context, id string) (*contracts.PendingAction, error) {
	raw, err := s.client.Get(ctx, actionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, errTicketNotFound()
	}
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	e, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	if s.clock().After(e.Action.ExpiresAt) {
		return nil, errTicketNotFound()
	}
	action := e.Action
	action.Consumed = e.Consumed
	return &action, nil
}

func (s *RedisStore) Redeem(ctx context.Context, id, principalID string) (*contracts.PendingAction, error) {
	res, err := redeemScript.Run(ctx, s.client,
		[]string{actionKey(id)}, principalID, s.clock().Unix()).Slice()
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	if len(res) != 2 {
		return nil, contracts.WrapTransient(fmt.Errorf("redeem script returned %d values", len(res)))
	}
	status, _ := res[0].(string)
	switch status {
	case "ok":
		raw, _ := res[1].(string)
		e, err := decodeEnvelope([]byte(raw))
		if err != nil {
			return nil, err
		}
		action := e.Action
		action.Consumed = true
		return &action, nil
	case "notfound":
		return nil, errTicketNotFound()
	case "denied":
		return nil, contracts.PermissionDenied()
	case "expired":
		return nil, errTicketExpired()
	case "consumed":
		return nil, errTicketConsumed()
	}
	return nil, contracts.WrapTransient(fmt.Errorf("redeem script returned status %q", status))
}

func (s *RedisStore) Cancel(ctx context.Context, id, principalID string) error {
	_, err := s.Redeem(ctx, id, principalID)
	return err
}

func (s *RedisStore) Newest(ctx context.Context, principalID string) (*contracts.PendingAction, error) {
	ids, err := s.client.ZRevRange(ctx, indexKey(principalID), 0, 19).Result()
	if err != nil {
		return nil, contracts.WrapTransient(err)
	}
	now := s.clock()
	for _, id := range ids {
		raw, err := s.client.Get(ctx, actionKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, contracts.WrapTransient(err)
		}
		e, err := decodeEnvelope(raw)
		if err != nil {
			continue
		}
		if e.Consumed || now.After(e.Action.ExpiresAt) {
			continue
		}
		action := e.Action
		return &action, nil
	}
	return nil, errTicketNotFound()
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, contracts.WrapTransient(err)
	}
	return &e, nil
}
