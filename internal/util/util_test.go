package util

import "testing"

func TestRedisKey(t *testing.T) {
	if got := RedisKey("app", "users", "kv"); got != "app:{users}:kv" {
		t.Fatalf("RedisKey=%q", got)
	}
}

func TestCoalesce(t *testing.T) {
	if Coalesce(0, 3) != 3 || Coalesce(5, 3) != 5 {
		t.Fatalf("Coalesce int mismatch")
	}
	if Coalesce("", "d") != "d" {
		t.Fatalf("Coalesce string mismatch")
	}
}
