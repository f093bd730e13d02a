// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the descriptor readiness reactor (epoll on Linux)
// and a Watcher that delivers per-descriptor read/write watches onto host
// event loops.
package reactor
