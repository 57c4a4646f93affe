package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"contest-rpc/model"

	"github.com/gomodule/redigo/redis"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// RedisStore keeps the contest data in Redis.
//
// Keys (all under prefix):
//
//	user:<username>          hash   id, first_name, last_name, username, password
//	races                    hash   engine capacity -> race id
//	participant:<id>         hash   id, first_name, last_name, team, engine_capacity
//	team:<team>              set    participant ids
//	capacity:<cc>            set    participant ids
//	fingerprint:<fields>     string participant id, guards against duplicates
type RedisStore struct {
	pool   *redis.Pool
	prefix string
}

func NewRedisPoolStore(pool *redis.Pool, prefix string) *RedisStore {
	return &RedisStore{pool: pool, prefix: prefix}
}

func NewRedisStore(address, prefix string, maxIdle, maxActive int) *RedisStore {
	return NewRedisPoolStore(&redis.Pool{
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", address, redis.DialConnectTimeout(3*time.Second))
		},
		MaxIdle:     maxIdle,
		MaxActive:   maxActive,
		Wait:        true,
		IdleTimeout: 5 * time.Minute,
	}, prefix)
}

// Ping checks that the server is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return errors.Wrap(err, "redis: get connection")
	}
	defer conn.Close()
	_, err = redis.DoContext(conn, ctx, "PING")
	return err
}

type redisUser struct {
	ID        int64  `redis:"id"`
	FirstName string `redis:"first_name"`
	LastName  string `redis:"last_name"`
	Username  string `redis:"username"`
	Password  string `redis:"password"`
}

type redisParticipant struct {
	ID             string `redis:"id"`
	FirstName      string `redis:"first_name"`
	LastName       string `redis:"last_name"`
	Team           string `redis:"team"`
	EngineCapacity int32  `redis:"engine_capacity"`
}

func (p redisParticipant) model() (model.Participant, error) {
	id, err := uuid.Parse(p.ID)
	if err != nil {
		return model.Participant{}, errors.Wrapf(err, "redis: participant id %q", p.ID)
	}
	return model.Participant{
		ID:             id,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Team:           p.Team,
		EngineCapacity: p.EngineCapacity,
	}, nil
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func (s *RedisStore) fingerprint(p model.Participant) string {
	return s.key("fingerprint", fmt.Sprintf("%q|%q|%q|%d", p.FirstName, p.LastName, p.Team, p.EngineCapacity))
}

func (s *RedisStore) conn(ctx context.Context) (redis.Conn, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "redis: get connection")
	}
	return conn, nil
}

func (s *RedisStore) FindUser(ctx context.Context, username string) (*UserRecord, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	values, err := redis.Values(redis.DoContext(conn, ctx, "HGETALL", s.key("user", username)))
	if err != nil {
		return nil, errors.Wrap(err, "redis: HGETALL user")
	}
	if len(values) == 0 {
		return nil, ErrNotFound
	}
	var ru redisUser
	if err := redis.ScanStruct(values, &ru); err != nil {
		return nil, errors.Wrap(err, "redis: scan user")
	}
	return &UserRecord{
		User: model.User{
			ID:        ru.ID,
			FirstName: ru.FirstName,
			LastName:  ru.LastName,
			Username:  ru.Username,
		},
		Password: ru.Password,
	}, nil
}

func (s *RedisStore) SaveUser(ctx context.Context, u UserRecord) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	ru := redisUser{
		ID:        u.ID,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
		Password:  u.Password,
	}
	_, err = redis.DoContext(conn, ctx, "HSET", redis.Args{}.Add(s.key("user", u.Username)).AddFlat(&ru)...)
	return errors.Wrap(err, "redis: HSET user")
}

func (s *RedisStore) FindAllRaces(ctx context.Context) ([]model.Race, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	m, err := redis.StringMap(redis.DoContext(conn, ctx, "HGETALL", s.key("races")))
	if err != nil {
		return nil, errors.Wrap(err, "redis: HGETALL races")
	}
	races := make([]model.Race, 0, len(m))
	for capStr, idStr := range m {
		race, err := parseRace(capStr, idStr)
		if err != nil {
			return nil, err
		}
		races = append(races, race)
	}
	sortRaces(races)
	return races, nil
}

func parseRace(capStr, idStr string) (model.Race, error) {
	cc, err := strconv.ParseInt(capStr, 10, 32)
	if err != nil {
		return model.Race{}, errors.Wrapf(err, "redis: race capacity %q", capStr)
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return model.Race{}, errors.Wrapf(err, "redis: race id %q", idStr)
	}
	return model.Race{ID: id, EngineCapacity: int32(cc)}, nil
}

func (s *RedisStore) FindRaceByCapacity(ctx context.Context, engineCapacity int32) (*model.Race, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	capStr := strconv.Itoa(int(engineCapacity))
	idStr, err := redis.String(redis.DoContext(conn, ctx, "HGET", s.key("races"), capStr))
	if err == redis.ErrNil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis: HGET races")
	}
	race, err := parseRace(capStr, idStr)
	if err != nil {
		return nil, err
	}
	return &race, nil
}

func (s *RedisStore) SaveRace(ctx context.Context, r model.Race) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = redis.DoContext(conn, ctx, "HSET", s.key("races"), r.EngineCapacity, r.ID)
	return errors.Wrap(err, "redis: HSET races")
}

func (s *RedisStore) SaveParticipant(ctx context.Context, p model.Participant) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	id := p.ID.String()
	claimed, err := redis.Bool(redis.DoContext(conn, ctx, "SETNX", s.fingerprint(p), id))
	if err != nil {
		return errors.Wrap(err, "redis: SETNX fingerprint")
	}
	if !claimed {
		return ErrDuplicate
	}

	rp := redisParticipant{
		ID:             id,
		FirstName:      p.FirstName,
		LastName:       p.LastName,
		Team:           p.Team,
		EngineCapacity: p.EngineCapacity,
	}
	conn.Send("MULTI")
	conn.Send("HSET", redis.Args{}.Add(s.key("participant", id)).AddFlat(&rp)...)
	conn.Send("SADD", s.key("team", p.Team), id)
	conn.Send("SADD", s.key("capacity", strconv.Itoa(int(p.EngineCapacity))), id)
	if _, err := redis.DoContext(conn, ctx, "EXEC"); err != nil {
		// release the claim so the participant can be retried
		redis.DoContext(conn, ctx, "DEL", s.fingerprint(p))
		return errors.Wrap(err, "redis: save participant")
	}
	return nil
}

func (s *RedisStore) FindParticipantsByTeam(ctx context.Context, team string) ([]model.Participant, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	ids, err := redis.Strings(redis.DoContext(conn, ctx, "SMEMBERS", s.key("team", team)))
	if err != nil {
		return nil, errors.Wrap(err, "redis: SMEMBERS team")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	for _, id := range ids {
		conn.Send("HGETALL", s.key("participant", id))
	}
	if err := conn.Flush(); err != nil {
		return nil, errors.Wrap(err, "redis: flush")
	}

	out := make([]model.Participant, 0, len(ids))
	for range ids {
		values, err := redis.Values(conn.Receive())
		if err != nil {
			return nil, errors.Wrap(err, "redis: HGETALL participant")
		}
		if len(values) == 0 {
			continue
		}
		var rp redisParticipant
		if err := redis.ScanStruct(values, &rp); err != nil {
			return nil, errors.Wrap(err, "redis: scan participant")
		}
		p, err := rp.model()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	sortParticipants(out)
	return out, nil
}

func (s *RedisStore) CountByEngineCapacity(ctx context.Context, engineCapacity int32) (int32, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	n, err := redis.Int(redis.DoContext(conn, ctx, "SCARD", s.key("capacity", strconv.Itoa(int(engineCapacity)))))
	if err != nil {
		return 0, errors.Wrap(err, "redis: SCARD capacity")
	}
	return int32(n), nil
}

// Flush removes every key under the store's prefix. Used by tests and by
// the seed loader when asked to start clean.
func (s *RedisStore) Flush(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	keys, err := redis.Strings(redis.DoContext(conn, ctx, "KEYS", s.prefix+"*"))
	if err != nil {
		return errors.Wrap(err, "redis: KEYS")
	}
	if len(keys) == 0 {
		return nil
	}
	_, err = redis.DoContext(conn, ctx, "DEL", redis.Args{}.AddFlat(keys)...)
	return errors.Wrap(err, "redis: DEL")
}

func (s *RedisStore) Close() error {
	return s.pool.Close()
}
