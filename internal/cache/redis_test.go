package cache

import (
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
)

func TestKeys(t *testing.T) {
	if got := DecisionKey("GC"); got != "imo:decision:GC" {
		t.Fatalf("decision key = %s", got)
	}
	if got := StatusKey("GC"); got != "imo:status:GC" {
		t.Fatalf("status key = %s", got)
	}
}

func TestSnapshotTTL(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer client.Close()

	rc := newClient(client, &config.RedisConfig{}, logger.Discard())
	if rc.ttl != time.Minute {
		t.Fatalf("default ttl = %s", rc.ttl)
	}
	rc = newClient(client, &config.RedisConfig{SnapshotTTL: 10 * time.Second}, logger.Discard())
	if rc.ttl != 10*time.Second {
		t.Fatalf("ttl = %s", rc.ttl)
	}
}
