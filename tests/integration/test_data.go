//go:build integration

package integration

import (
	"fmt"
	"sync/atomic"
	"time"
)

var userSeq atomic.Int64

// TestUser generates unique test user credentials
func TestUser(suffix string) (email, password string) {
	email = fmt.Sprintf("test-%d-%d-%s@example.com", time.Now().Unix(), userSeq.Add(1), suffix)
	password = "TestPassword123!"
	return
}
