package lease

import (
	"context"
	"errors"
	"fmt"
	"script-desk/internal/domain"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Both scripts compare expiry against the caller's clock, passed as
// unix milliseconds. The key TTL only garbage collects abandoned leases.
var acquireScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'holder', 'name', 'session', 'issued', 'expires')
if cur[1] and cur[5] and tonumber(cur[5]) > tonumber(ARGV[4]) then
	local own = cur[1] == ARGV[1] and (cur[3] == ARGV[3] or ARGV[7] == '1')
	if not own then
		return {0, cur[1], cur[2] or '', cur[3] or '', cur[4] or '0', cur[5]}
	end
end
redis.call('HSET', KEYS[1], 'holder', ARGV[1], 'name', ARGV[2], 'session', ARGV[3], 'issued', ARGV[4], 'expires', ARGV[5])
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return {1, ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]}
`)

// renewScript extends the lease only for the holding session. A free key
// answers with an empty holder.
var renewScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'holder', 'name', 'session', 'issued', 'expires')
local valid = cur[1] and cur[5] and tonumber(cur[5]) > tonumber(ARGV[4])
if valid and cur[1] == ARGV[1] and cur[3] == ARGV[3] then
	redis.call('HSET', KEYS[1], 'name', ARGV[2], 'issued', ARGV[4], 'expires', ARGV[5])
	redis.call('PEXPIRE', KEYS[1], ARGV[6])
	return {1, ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]}
end
if valid then
	return {0, cur[1], cur[2] or '', cur[3] or '', cur[4] or '0', cur[5]}
end
return {0, '', '', '', '0', '0'}
`)

var releaseScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'holder', 'session', 'expires')
if cur[1] == ARGV[1] and cur[2] == ARGV[2] and cur[3] and tonumber(cur[3]) > tonumber(ARGV[3]) then
	redis.call('DEL', KEYS[1])
	return 1
end
return 0
`)

// RedisManager keeps one hash per script. Lua scripts make acquire and
// release single atomic steps on the Redis server.
type RedisManager struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    Clock
}

func NewRedisManager(client redis.UniversalClient, ttl time.Duration, clock Clock) *RedisManager {
	if clock == nil {
		clock = time.Now
	}
	return &RedisManager{
		client: client,
		prefix: "script:lease:",
		ttl:    ttl,
		now:    clock,
	}
}

func (m *RedisManager) key(scope domain.Scope) string {
	return m.prefix + scope.Key()
}

func (m *RedisManager) Acquire(ctx context.Context, scope domain.Scope, claim Claim) (domain.Lease, error) {
	if err := validateClaim(scope, claim); err != nil {
		return domain.Lease{}, err
	}

	now := m.now()
	want := domain.NewLease(claim.User, claim.UserName, claim.Session, now, m.ttl)
	reclaim := "0"
	if claim.Reclaim {
		reclaim = "1"
	}

	script := acquireScript
	if claim.Renew {
		script = renewScript
	}

	res, err := script.Run(ctx, m.client, []string{m.key(scope)},
		want.Holder,
		want.HolderName,
		want.Session,
		strconv.FormatInt(want.IssuedAt.UnixMilli(), 10),
		strconv.FormatInt(want.ExpiresAt.UnixMilli(), 10),
		strconv.FormatInt(m.ttl.Milliseconds(), 10),
		reclaim,
	).Slice()
	if err != nil {
		return domain.Lease{}, fmt.Errorf("acquire lease %s: %w", scope, err)
	}

	granted, current, err := parseAcquireReply(res)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("acquire lease %s: %w", scope, err)
	}
	if !granted {
		if current.Holder == "" {
			return domain.Lease{}, domain.ErrLeaseLost
		}
		return domain.Lease{}, lockedBy(current, claim)
	}
	return want, nil
}

func (m *RedisManager) Release(ctx context.Context, scope domain.Scope, user, session string) (bool, error) {
	if err := scope.Validate(); err != nil {
		return false, err
	}
	n, err := releaseScript.Run(ctx, m.client, []string{m.key(scope)},
		user,
		session,
		strconv.FormatInt(m.now().UnixMilli(), 10),
	).Int()
	if err != nil {
		return false, fmt.Errorf("release lease %s: %w", scope, err)
	}
	return n == 1, nil
}

func (m *RedisManager) Status(ctx context.Context, scope domain.Scope) (*domain.Lease, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	fields, err := m.client.HGetAll(ctx, m.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("read lease %s: %w", scope, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	l, err := leaseFromFields(fields["holder"], fields["name"], fields["session"], fields["issued"], fields["expires"])
	if err != nil {
		return nil, fmt.Errorf("read lease %s: %w", scope, err)
	}
	return domain.ActiveLease(&l, m.now()), nil
}

func parseAcquireReply(res []interface{}) (bool, domain.Lease, error) {
	if len(res) != 6 {
		return false, domain.Lease{}, errors.New("unexpected acquire reply")
	}
	ok, _ := res[0].(int64)
	str := make([]string, 5)
	for i := range str {
		s, isStr := res[i+1].(string)
		if !isStr {
			return false, domain.Lease{}, errors.New("unexpected acquire reply")
		}
		str[i] = s
	}
	l, err := leaseFromFields(str[0], str[1], str[2], str[3], str[4])
	return ok == 1, l, err
}

func leaseFromFields(holder, name, session, issued, expires string) (domain.Lease, error) {
	issuedMs, err := strconv.ParseInt(issued, 10, 64)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("bad issued timestamp %q: %w", issued, err)
	}
	expiresMs, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("bad expiry timestamp %q: %w", expires, err)
	}
	return domain.Lease{
		Holder:     holder,
		HolderName: name,
		Session:    session,
		IssuedAt:   time.UnixMilli(issuedMs),
		ExpiresAt:  time.UnixMilli(expiresMs),
	}, nil
}
