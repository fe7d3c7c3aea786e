package session

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/proxy"
)

// Reachable opens and immediately closes a TCP connection to addr. The dial
// goes through the proxy named by ALL_PROXY/NO_PROXY when set.
func Reachable(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := proxy.Dial(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", addr, ErrUnreachable, err)
	}
	return conn.Close()
}
