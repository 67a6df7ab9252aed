// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/dbsandbox/lib/config"
	"github.com/bureau-foundation/dbsandbox/lib/ipc"
)

// fakeWorkerVariable makes the test binary act as a worker. Its value
// names the scenario.
const fakeWorkerVariable = "DBSANDBOX_FAKE_WORKER"

const fakeLogPath = "/tmp/dbsandbox-fake/worker.log"

// runFakeWorker speaks the worker side of the protocol without a
// cluster. The "garbled" scenario sends an undecodable reply right
// after ready. Provision requests are answered from memory:
//
//   - "crash" exits without replying
//   - "slow-*" replies after 300ms
//   - a database seen before fails like a duplicate createdb
func runFakeWorker(scenario string) int {
	spawnID := ""
	for index, arg := range os.Args {
		if arg == "--spawn-id" && index+1 < len(os.Args) {
			spawnID = os.Args[index+1]
		}
	}

	if scenario == "die" {
		return 2
	}

	conn, err := ipc.InheritedConn()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	channel := ipc.NewChannel(conn)
	defer channel.Close()

	channel.Send(ipc.Message{Type: ipc.TypeLogLocation, Path: fakeLogPath})

	data, err := io.ReadAll(os.Stdin)
	if err == nil {
		_, err = config.Parse(data)
	}
	if err == nil && unix.Getpgrp() != os.Getpid() {
		err = errors.New("worker is not a process group leader")
	}
	if scenario == "startup-fail" {
		err = fmt.Errorf("init-cluster: initdb: %w", fs.ErrPermission)
	}
	if err != nil {
		channel.Send(ipc.Message{
			Type:      ipc.TypeStartupFailed,
			RequestID: spawnID,
			Error:     ipc.NewErrorDetail(ipc.KindStartup, err),
		})
		return 1
	}
	channel.Send(ipc.Message{Type: ipc.TypeReady, RequestID: spawnID})
	if scenario == "garbled" {
		channel.Send(ipc.Message{Type: ipc.TypeProvisioned, RequestID: "bad\xff"})
	}

	var (
		mu       sync.Mutex
		created  = make(map[string]bool)
		nextPort = 2000
		replies  sync.WaitGroup
	)
	defer replies.Wait()

	for {
		message, err := channel.Receive()
		var malformed *ipc.MalformedError
		if errors.As(err, &malformed) {
			channel.Send(ipc.Message{
				Type:      ipc.TypeProtocolError,
				RequestID: malformed.RequestID,
				Error:     &ipc.ErrorDetail{Kind: ipc.KindProtocol, Message: err.Error()},
			})
			continue
		}
		if err != nil {
			if scenario == "hang" {
				select {}
			}
			return 0
		}
		switch message.Type {
		case ipc.TypeShutdown:
			if scenario == "hang" {
				continue
			}
			return 0
		case ipc.TypeProvision:
			if scenario == "protocol" {
				channel.Send(ipc.Message{
					Type:      ipc.TypeProtocolError,
					RequestID: message.RequestID,
					Error:     &ipc.ErrorDetail{Kind: ipc.KindProtocol, Message: "provision not supported"},
				})
				continue
			}
			if message.RequestID == "crash" {
				return 3
			}
			mu.Lock()
			duplicate := created[message.DatabaseName()]
			created[message.DatabaseName()] = true
			nextPort++
			port := nextPort
			mu.Unlock()

			reply := ipc.Message{Type: ipc.TypeProvisioned, RequestID: message.RequestID, Endpoint: &ipc.Endpoint{Host: "127.0.0.1", Port: port}}
			if duplicate {
				reply = ipc.Message{
					Type:      ipc.TypeProvisionFailed,
					RequestID: message.RequestID,
					Error: ipc.NewErrorDetail(ipc.KindTenant,
						fmt.Errorf("create-tenant: %w", fmt.Errorf("database %q already exists", message.DatabaseName()))),
				}
			}
			delay := time.Duration(0)
			if len(message.RequestID) > 5 && message.RequestID[:5] == "slow-" {
				delay = 300 * time.Millisecond
			}
			replies.Add(1)
			go func() {
				defer replies.Done()
				time.Sleep(delay)
				channel.Send(reply)
			}()
		default:
			channel.Send(ipc.Message{
				Type:      ipc.TypeProtocolError,
				RequestID: message.RequestID,
				Error:     &ipc.ErrorDetail{Kind: ipc.KindProtocol, Message: "unrecognized"},
			})
		}
	}
}
