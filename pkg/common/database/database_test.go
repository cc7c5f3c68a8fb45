package database

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/synaptica-ai/reporting/pkg/common/config"
)

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	if err != nil {
		t.Fatalf("split addr: %v", err)
	}

	client := OpenRedis(context.Background(), &config.Config{RedisHost: host, RedisPort: port})
	defer client.Close()

	if err := client.Set(context.Background(), "k", "v", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if got, _ := mr.Get("k"); got != "v" {
		t.Fatalf("expected v, got %q", got)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := PostgresDSN(&config.Config{
		PostgresHost:     "db",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "reporting",
		PostgresPort:     "5432",
		PostgresSSLMode:  "disable",
	})
	want := "host=db user=u password=p dbname=reporting port=5432 sslmode=disable"
	if dsn != want {
		t.Fatalf("dsn = %q, want %q", dsn, want)
	}
}

func TestOpenSQLite(t *testing.T) {
	for _, path := range []string{"", filepath.Join(t.TempDir(), "x.db")} {
		conn, err := OpenSQLite(path)
		if err != nil {
			t.Fatalf("open %q: %v", path, err)
		}
		if err := conn.Exec("CREATE TABLE t (id INTEGER)").Error; err != nil {
			t.Fatalf("create on %q: %v", path, err)
		}
		if err := Close(conn); err != nil {
			t.Fatalf("close %q: %v", path, err)
		}
	}
}
