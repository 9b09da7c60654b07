// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package reload_test

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/samber/oops"

	"github.com/holomush/extreload/internal/artifact"
	"github.com/holomush/extreload/internal/broadcast"
	"github.com/holomush/extreload/internal/detector"
	"github.com/holomush/extreload/internal/distribution"
	"github.com/holomush/extreload/internal/hotswap"
	"github.com/holomush/extreload/internal/loader"
	"github.com/holomush/extreload/pkg/extension"
)

func greeter(name, reply string) string {
	return `
class Greeter {
  getInfo() {
    return { id: 'greeter', name: '` + name + `', blocks: [
      { opcode: 'hello', blockType: Scratch.BlockType.REPORTER, text: 'hello' },
    ] };
  }
  hello() { return '` + reply + `'; }
}
Scratch.extensions.register(new Greeter());
`
}

// devServer is the server half: detector, broadcaster and HTTP surface.
type devServer struct {
	art    *artifact.Artifact
	addr   string
	logger *slog.Logger

	mu  sync.Mutex
	bc  *broadcast.Broadcaster
	srv *distribution.Server

	det    *detector.Detector
	cancel context.CancelFunc
	done   chan struct{}
}

func startDevServer(path, addr string) *devServer {
	art, err := artifact.New(path)
	Expect(err).NotTo(HaveOccurred())

	d := &devServer{art: art, logger: slog.New(slog.DiscardHandler)}
	d.det = detector.New(art, func(digest string) {
		d.mu.Lock()
		bc := d.bc
		d.mu.Unlock()
		if bc != nil {
			bc.Broadcast(extension.NewChangeEvent(digest))
		}
	}, detector.Options{Debounce: 20 * time.Millisecond, Logger: d.logger})

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		defer GinkgoRecover()
		Expect(d.det.Run(ctx)).To(Succeed())
	}()

	d.listen(addr)
	return d
}

func (d *devServer) listen(addr string) {
	bc := broadcast.NewBroadcaster(broadcast.Options{Logger: d.logger})
	srv := distribution.NewServer(addr, distribution.Deps{
		Artifact:    d.art,
		Bootstrap:   distribution.NewBootstrap("", distribution.BootstrapSettings{Identity: "greeter"}),
		PushChannel: bc,
		Logger:      d.logger,
	})
	_, err := srv.Start()
	Expect(err).NotTo(HaveOccurred())

	d.mu.Lock()
	d.bc, d.srv, d.addr = bc, srv, srv.Addr()
	d.mu.Unlock()
}

// halt drops every push connection and stops serving HTTP.
func (d *devServer) halt() {
	d.mu.Lock()
	bc, srv := d.bc, d.srv
	d.bc, d.srv = nil, nil
	d.mu.Unlock()
	if bc != nil {
		bc.Close()
	}
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(srv.Stop(ctx)).To(Succeed())
	}
}

func (d *devServer) url() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return "http://" + d.addr
}

func (d *devServer) shutdown() {
	d.halt()
	d.cancel()
	<-d.done
}

// client is the attach half around a headless recording host.
type client struct {
	proxy  *hotswap.StableProxy
	host   *hotswap.LogHost
	orch   *hotswap.Orchestrator
	mgr    *hotswap.ConnectionManager
	cancel context.CancelFunc
	done   chan struct{}
}

func attach(serverURL, strategyName string) *client {
	logger := slog.New(slog.DiscardHandler)
	strategy, err := hotswap.NewStrategy(strategyName)
	Expect(err).NotTo(HaveOccurred())

	proxy := hotswap.NewStableProxy("greeter", hotswap.ProxyOptions{Strategy: strategy, Logger: logger})
	host := hotswap.NewLogHost(logger)
	Expect(hotswap.Attach(host, proxy)).To(Succeed())

	orch := hotswap.NewOrchestrator(proxy,
		hotswap.NewHTTPSource(serverURL, &http.Client{}),
		loader.New(loader.Options{Logger: logger}),
		host,
		hotswap.OrchestratorOptions{SettleDelay: time.Millisecond, Logger: logger},
	)
	mgr := hotswap.NewConnectionManager(hotswap.NewWebSocketDialer(serverURL), orch, hotswap.ConnectionOptions{
		Policy:         hotswap.PolicyRetry,
		ReconnectDelay: 50 * time.Millisecond,
		DialTimeout:    time.Second,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{proxy: proxy, host: host, orch: orch, mgr: mgr, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_ = mgr.Run(ctx)
	}()
	return c
}

func (c *client) stop() {
	c.cancel()
	<-c.done
	c.orch.Wait()
}

func (c *client) hello() any {
	out, err := c.proxy.Invoke(context.Background(), "hello", nil)
	if err != nil {
		return err
	}
	return out
}

func write(path, content string) {
	Expect(os.WriteFile(path, []byte(content), 0o600)).To(Succeed())
}

var _ = Describe("Hot reload", func() {
	var (
		path string
		dev  *devServer
		cli  *client
	)

	for _, strategyName := range []string{"placeholder", "rotation"} {
		Context("with the "+strategyName+" strategy", func() {
			BeforeEach(func() {
				path = filepath.Join(GinkgoT().TempDir(), "extension.js")
				write(path, greeter("Greeter", "v1"))
				dev = startDevServer(path, "127.0.0.1:0")
				cli = attach(dev.url(), strategyName)

				Eventually(cli.orch.LastAppliedDigest).WithTimeout(5 * time.Second).
					Should(Equal(artifact.Sum([]byte(greeter("Greeter", "v1")))))
			})

			AfterEach(func() {
				cli.stop()
				dev.shutdown()
			})

			It("swaps the implementation after a file edit", func() {
				Expect(cli.hello()).To(Equal("v1"))

				write(path, greeter("Greeter Two", "v2"))

				Eventually(cli.hello).WithTimeout(5 * time.Second).Should(Equal("v2"))
				desc, ok := cli.host.Current()
				Expect(ok).To(BeTrue())
				Expect(desc.DisplayName).To(Equal("Greeter Two"))
			})

			It("never shows the host a different identity", func() {
				write(path, greeter("Greeter Two", "v2"))
				Eventually(cli.hello).WithTimeout(5 * time.Second).Should(Equal("v2"))

				for _, d := range cli.host.History() {
					Expect(d.Identity).To(Equal("greeter"))
				}
			})

			It("keeps the last good implementation when the new payload throws", func() {
				good := cli.orch.LastAppliedDigest()
				before := len(cli.host.History())
				write(path, `throw new Error("syntax slip");`)

				// transient redraw, then the rollback redraw
				Eventually(func() int { return len(cli.host.History()) }).
					WithTimeout(5 * time.Second).Should(BeNumerically(">=", before+2))
				Consistently(cli.hello).WithTimeout(200 * time.Millisecond).Should(Equal("v1"))
				Expect(cli.orch.LastAppliedDigest()).To(Equal(good))

				Eventually(func() string {
					_, err := cli.orch.CheckUpdate(context.Background(), false)
					oopsErr, ok := oops.AsOops(err)
					if !ok {
						return ""
					}
					code, _ := oopsErr.Code().(string)
					return code
				}).WithTimeout(5 * time.Second).Should(Equal(hotswap.CodePayloadExecution))

				desc, ok := cli.host.Current()
				Expect(ok).To(BeTrue())
				Expect(desc.DisplayName).To(Equal("Greeter"))
			})
		})
	}

	Context("when the server restarts", func() {
		BeforeEach(func() {
			path = filepath.Join(GinkgoT().TempDir(), "extension.js")
			write(path, greeter("Greeter", "v1"))
			dev = startDevServer(path, "127.0.0.1:0")
			cli = attach(dev.url(), "placeholder")
			Eventually(cli.mgr.Connected).WithTimeout(5 * time.Second).Should(BeTrue())
			Eventually(cli.hello).WithTimeout(5 * time.Second).Should(Equal("v1"))
		})

		AfterEach(func() {
			cli.stop()
			dev.shutdown()
		})

		It("catches up on changes made while disconnected", func() {
			addr := dev.addr
			dev.halt()
			Eventually(cli.mgr.Connected).WithTimeout(5 * time.Second).Should(BeFalse())

			write(path, greeter("Greeter", "offline edit"))
			Consistently(cli.hello).WithTimeout(200 * time.Millisecond).Should(Equal("v1"))

			dev.listen(addr)

			Eventually(cli.mgr.Connected).WithTimeout(5 * time.Second).Should(BeTrue())
			Eventually(cli.hello).WithTimeout(5 * time.Second).Should(Equal("offline edit"))
		})
	})

	It("serves the force reload control action", func() {
		path = filepath.Join(GinkgoT().TempDir(), "extension.js")
		write(path, greeter("Greeter", "v1"))
		dev = startDevServer(path, "127.0.0.1:0")
		defer dev.shutdown()
		cli = attach(dev.url(), "placeholder")
		defer cli.stop()
		Eventually(cli.hello).WithTimeout(5 * time.Second).Should(Equal("v1"))

		before := len(cli.host.History())
		_, err := cli.proxy.Invoke(context.Background(), hotswap.ForceReloadOpcode, nil)
		Expect(err).NotTo(HaveOccurred())

		Eventually(func() int { return len(cli.host.History()) }).
			WithTimeout(5 * time.Second).Should(BeNumerically(">", before))
		Expect(cli.hello()).To(Equal("v1"))
	})
})
