package notify

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// AddressBook resolves a party identity to its registered push addresses.
// A party with no addresses is not an error; it is simply skipped.
type AddressBook interface {
	Addresses(ctx context.Context, partyID string) ([]string, error)
	Register(ctx context.Context, partyID, address string) error
	Remove(ctx context.Context, partyID, address string) error
}

// RedisAddressBook keeps each party's addresses in a redis set.
type RedisAddressBook struct {
	client *redis.Client
}

func NewRedisAddressBook(client *redis.Client) *RedisAddressBook {
	return &RedisAddressBook{client: client}
}

func (b *RedisAddressBook) Addresses(ctx context.Context, partyID string) ([]string, error) {
	return b.client.SMembers(ctx, tokenKey(partyID)).Result()
}

func (b *RedisAddressBook) Register(ctx context.Context, partyID, address string) error {
	return b.client.SAdd(ctx, tokenKey(partyID), address).Err()
}

func (b *RedisAddressBook) Remove(ctx context.Context, partyID, address string) error {
	return b.client.SRem(ctx, tokenKey(partyID), address).Err()
}

func tokenKey(partyID string) string { return "party:push:" + partyID }

// MemoryAddressBook backs redis-less runs and tests.
type MemoryAddressBook struct {
	mu    sync.RWMutex
	table map[string][]string
}

func NewMemoryAddressBook() *MemoryAddressBook {
	return &MemoryAddressBook{table: make(map[string][]string)}
}

func (b *MemoryAddressBook) Addresses(ctx context.Context, partyID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.table[partyID]))
	copy(out, b.table[partyID])
	return out, nil
}

func (b *MemoryAddressBook) Register(ctx context.Context, partyID, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, a := range b.table[partyID] {
		if a == address {
			return nil
		}
	}
	b.table[partyID] = append(b.table[partyID], address)
	return nil
}

func (b *MemoryAddressBook) Remove(ctx context.Context, partyID, address string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	addrs := b.table[partyID]
	for i, a := range addrs {
		if a == address {
			b.table[partyID] = append(addrs[:i], addrs[i+1:]...)
			return nil
		}
	}
	return nil
}
