package infobroker

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"time"

	_ "github.com/lib/pq"
)

const probeTimeout = 5 * time.Second

// pingHost reports whether the host answers a single ICMP echo. Sending raw
// ICMP needs elevated privileges, so the system ping binary does the work.
func pingHost(ctx context.Context, host string) (bool, error) {
	if host == "" {
		return false, fmt.Errorf("host parameter is required")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := exec.CommandContext(ctx, "ping", "-c", "1", "-W", "2", host).Run()
	return err == nil, nil
}

// portOpen reports whether a TCP connection to host:port succeeds.
func portOpen(ctx context.Context, host string, port int) (bool, error) {
	if host == "" {
		return false, fmt.Errorf("host parameter is required")
	}
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	if err != nil {
		return false, nil
	}
	conn.Close()
	return true, nil
}

// siteAvailable reports whether the URL answers an HTTP request with a
// non-5xx status.
func siteAvailable(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, fmt.Errorf("url parameter is required")
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, nil
	}
	resp.Body.Close()
	return resp.StatusCode < 500, nil
}

type databaseParams struct {
	Host     string
	Name     string
	User     string
	Password string
}

// databaseReady reports whether the database accepts a connection with the
// given credentials. The connection is opened, pinged, and closed.
func databaseReady(ctx context.Context, p databaseParams) (bool, error) {
	if p.Host == "" || p.Name == "" {
		return false, fmt.Errorf("host and name parameters are required")
	}
	dsn := fmt.Sprintf("host=%s dbname=%s user=%s password=%s sslmode=disable connect_timeout=5",
		p.Host, p.Name, p.User, p.Password)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return false, err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return false, nil
	}
	return true, nil
}
