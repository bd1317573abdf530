// Copyright 2026 The Corral Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"
)

func TestBridgeForwards(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()
	go func() {
		for {
			connection, acceptErr := target.Accept()
			if acceptErr != nil {
				return
			}
			go func() {
				io.Copy(connection, connection)
				connection.Close()
			}()
		}
	}()

	socketPath := filepath.Join(t.TempDir(), "proxy.sock")
	bridge := &Bridge{
		SocketPath: socketPath,
		TargetAddr: target.Addr().String(),
	}
	if err := bridge.Start(); err != nil {
		t.Fatal(err)
	}
	defer bridge.Stop()

	connection, err := net.Dial("unix", socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer connection.Close()

	if _, err := connection.Write([]byte("through the bridge")); err != nil {
		t.Fatal(err)
	}
	buffer := make([]byte, 18)
	connection.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := io.ReadFull(connection, buffer); err != nil {
		t.Fatal(err)
	}
	if string(buffer) != "through the bridge" {
		t.Errorf("echoed %q", buffer)
	}
}

func TestBridgeRejectsDeadTarget(t *testing.T) {
	reserved, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	deadAddr := reserved.Addr().String()
	reserved.Close()

	bridge := &Bridge{
		SocketPath: filepath.Join(t.TempDir(), "proxy.sock"),
		TargetAddr: deadAddr,
	}
	if err := bridge.Start(); err == nil {
		bridge.Stop()
		t.Error("start must fail when the target is unreachable")
	}
}

func TestBridgeRequiresConfig(t *testing.T) {
	for _, bridge := range []*Bridge{
		{TargetAddr: "127.0.0.1:1"},
		{SocketPath: "/tmp/x.sock"},
	} {
		if err := bridge.Start(); err == nil {
			bridge.Stop()
			t.Errorf("start must fail with incomplete config: %+v", bridge)
		}
	}
}
