package pushcmder

import (
	"context"
	"net"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/config"
	"github.com/papercomputeco/loom/pkg/merkle"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"
	"github.com/papercomputeco/loom/server"
)

var _ = Describe("Push Command", func() {
	var (
		ctx       context.Context
		tmpDir    string
		localPath string
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		tmpDir, err = os.MkdirTemp("", "loom-push-test-*")
		Expect(err).NotTo(HaveOccurred())
		localPath = filepath.Join(tmpDir, "local.sqlite")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	makeNode := func(role, text string, parent *merkle.Node) *merkle.Node {
		return merkle.NewNode(merkle.Bucket{
			Type:    "message",
			Role:    role,
			Content: []chat.ContentBlock{{Type: "text", Text: text}},
			Model:   "test-model",
		}, parent)
	}

	startServer := func() (string, *server.Server, func()) {
		cfg := config.Default()
		cfg.DB = filepath.Join(tmpDir, "server.sqlite")

		srv, err := server.New(cfg, zap.NewNop())
		Expect(err).NotTo(HaveOccurred())

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		go func() {
			_ = srv.RunWithListener(listener)
		}()

		addr := "http://" + listener.Addr().String()
		cleanup := func() {
			srv.Shutdown()
			srv.Close()
		}
		return addr, srv, cleanup
	}

	serverNodes := func(addr string) int {
		d, err := sqlite.NewDriver(ctx, filepath.Join(tmpDir, "server.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()
		nodes, err := d.List(ctx)
		Expect(err).NotTo(HaveOccurred())
		return len(nodes)
	}

	It("pushes local nodes to a remote server", func() {
		// Seed local DB
		local, err := sqlite.NewDriver(ctx, localPath)
		Expect(err).NotTo(HaveOccurred())
		nodeA := makeNode("user", "hello from push test", nil)
		nodeB := makeNode("assistant", "hi back from push test", nodeA)
		_, err = local.Put(ctx, nodeA)
		Expect(err).NotTo(HaveOccurred())
		_, err = local.Put(ctx, nodeB)
		Expect(err).NotTo(HaveOccurred())
		Expect(local.SetHead(ctx, "t1", "pushed thread", nodeB.Hash)).To(Succeed())
		local.Close()

		// Start server
		addr, _, cleanup := startServer()
		defer cleanup()

		// Run push
		cmd := NewPushCmd()
		cmd.SetArgs([]string{"--sqlite", localPath, addr})
		err = cmd.ExecuteContext(ctx)
		Expect(err).NotTo(HaveOccurred())

		// Verify server received the nodes and the thread head
		Expect(serverNodes(addr)).To(Equal(2))

		d, err := sqlite.NewDriver(ctx, filepath.Join(tmpDir, "server.sqlite"))
		Expect(err).NotTo(HaveOccurred())
		defer d.Close()
		thread, err := d.GetThread(ctx, "t1")
		Expect(err).NotTo(HaveOccurred())
		Expect(thread.HeadHash).To(Equal(nodeB.Hash))
	})

	It("deduplicates on double push", func() {
		// Seed local DB
		local, err := sqlite.NewDriver(ctx, localPath)
		Expect(err).NotTo(HaveOccurred())
		nodeA := makeNode("user", "dedup push test", nil)
		_, err = local.Put(ctx, nodeA)
		Expect(err).NotTo(HaveOccurred())
		local.Close()

		// Start server
		addr, _, cleanup := startServer()
		defer cleanup()

		// Push twice
		cmd1 := NewPushCmd()
		cmd1.SetArgs([]string{"--sqlite", localPath, addr})
		err = cmd1.ExecuteContext(ctx)
		Expect(err).NotTo(HaveOccurred())

		cmd2 := NewPushCmd()
		cmd2.SetArgs([]string{"--sqlite", localPath, addr})
		err = cmd2.ExecuteContext(ctx)
		Expect(err).NotTo(HaveOccurred())

		// Still only one node on server
		Expect(serverNodes(addr)).To(Equal(1))
	})
})
