package sqlite_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/loom/pkg/chat"
	"github.com/papercomputeco/loom/pkg/graph"
	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/merkle"
	"github.com/papercomputeco/loom/pkg/storage/sqlite"
)

var _ = Describe("Driver", func() {
	var (
		driver *sqlite.Driver
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		var err error
		driver, err = sqlite.NewDriver(ctx, ":memory:")
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if driver != nil {
			driver.Close()
		}
	})

	Describe("NewDriver", func() {
		It("creates a driver with in-memory database", func() {
			Expect(driver).NotTo(BeNil())
		})

		It("creates a driver with file database", func() {
			tmpDir := GinkgoT().TempDir()
			dbPath := filepath.Join(tmpDir, "test.db")

			d, err := sqlite.NewDriver(ctx, dbPath)
			Expect(err).NotTo(HaveOccurred())
			defer d.Close()

			// Verify file was created
			_, err = os.Stat(dbPath)
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("node storage", func() {
		It("stores and retrieves a node", func() {
			node := merkle.NewNode("test content", nil)

			isNew, err := driver.Put(ctx, node)
			Expect(err).NotTo(HaveOccurred())
			Expect(isNew).To(BeTrue())

			retrieved, err := driver.Get(ctx, node.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.Hash).To(Equal(node.Hash))
			Expect(retrieved.Content).To(Equal(node.Content))
			Expect(retrieved.ParentHash).To(BeNil())
		})

		It("stores and retrieves a node with parent", func() {
			parent := merkle.NewNode("parent", nil)
			child := merkle.NewNode("child", parent)

			_, err := driver.Put(ctx, parent)
			Expect(err).NotTo(HaveOccurred())
			_, err = driver.Put(ctx, child)
			Expect(err).NotTo(HaveOccurred())

			retrieved, err := driver.Get(ctx, child.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(retrieved.ParentHash).NotTo(BeNil())
			Expect(*retrieved.ParentHash).To(Equal(parent.Hash))
		})

		It("returns ErrNotFound for non-existent hash", func() {
			_, err := driver.Get(ctx, "nonexistent")
			Expect(err).To(HaveOccurred())
			Expect(merkle.IsNotFound(err)).To(BeTrue())
		})

		It("reports duplicates without storing them twice", func() {
			node := merkle.NewNode("test", nil)

			isNew, err := driver.Put(ctx, node)
			Expect(err).NotTo(HaveOccurred())
			Expect(isNew).To(BeTrue())

			isNew, err = driver.Put(ctx, node)
			Expect(err).NotTo(HaveOccurred())
			Expect(isNew).To(BeFalse())

			nodes, _ := driver.List(ctx)
			Expect(nodes).To(HaveLen(1))
		})

		It("rejects nil nodes", func() {
			_, err := driver.Put(ctx, nil)
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("nil node"))
		})

		It("traverses ancestry, descendants and depth", func() {
			root := merkle.NewNode("root", nil)
			child := merkle.NewNode("child", root)
			grandchild := merkle.NewNode("grandchild", child)

			driver.Put(ctx, root)
			driver.Put(ctx, child)
			driver.Put(ctx, grandchild)

			ancestry, err := driver.Ancestry(ctx, grandchild.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(ancestry).To(HaveLen(3))
			Expect(ancestry[0].Content).To(Equal("grandchild"))
			Expect(ancestry[2].Content).To(Equal("root"))

			path, err := driver.Descendants(ctx, grandchild.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(path[0].Content).To(Equal("root"))

			depth, err := driver.Depth(ctx, grandchild.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(depth).To(Equal(2))
		})

		It("finds roots and leaves", func() {
			root := merkle.NewNode("root", nil)
			branch1 := merkle.NewNode("branch1", root)
			branch2 := merkle.NewNode("branch2", root)

			driver.Put(ctx, root)
			driver.Put(ctx, branch1)
			driver.Put(ctx, branch2)

			roots, err := driver.Roots(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(roots).To(HaveLen(1))

			leaves, err := driver.Leaves(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(leaves).To(HaveLen(2))

			children, err := driver.GetByParent(ctx, &root.Hash)
			Expect(err).NotTo(HaveOccurred())
			Expect(children).To(HaveLen(2))
		})
	})

	Describe("thread heads", func() {
		It("upserts and retrieves a thread", func() {
			Expect(driver.SetHead(ctx, "t1", "a topic", "abc123")).To(Succeed())

			thread, err := driver.GetThread(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Topic).To(Equal("a topic"))
			Expect(thread.HeadHash).To(Equal("abc123"))
		})

		It("keeps the stored topic when the update's topic is empty", func() {
			Expect(driver.SetHead(ctx, "t1", "original topic", "h1")).To(Succeed())
			Expect(driver.SetHead(ctx, "t1", "", "h2")).To(Succeed())

			thread, err := driver.GetThread(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(thread.Topic).To(Equal("original topic"))
			Expect(thread.HeadHash).To(Equal("h2"))
		})

		It("returns ErrThreadNotFound for unknown threads", func() {
			_, err := driver.GetThread(ctx, "missing")
			Expect(err).To(MatchError(history.ErrThreadNotFound))
		})

		It("lists threads most recently updated first", func() {
			Expect(driver.SetHead(ctx, "old", "old topic", "")).To(Succeed())
			time.Sleep(5 * time.Millisecond)
			Expect(driver.SetHead(ctx, "new", "new topic", "")).To(Succeed())

			threads, err := driver.ListThreads(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(threads).To(HaveLen(2))
			Expect(threads[0].ID).To(Equal("new"))
			Expect(threads[1].ID).To(Equal("old"))
		})
	})

	Describe("checkpoints", func() {
		saverCheckpoint := func(step int, next string, intr *graph.Interrupt) *graph.Checkpoint {
			return &graph.Checkpoint{
				ThreadID:  "t1",
				Step:      step,
				NextNode:  next,
				State:     graph.State{"topic": "hello", "count": step},
				Interrupt: intr,
				CreatedAt: time.Now().UTC(),
			}
		}

		It("stores and returns the latest checkpoint", func() {
			saver := driver.Saver()

			Expect(saver.Put(ctx, saverCheckpoint(0, "generate", nil))).To(Succeed())
			Expect(saver.Put(ctx, saverCheckpoint(1, "review", nil))).To(Succeed())

			cp, err := saver.Latest(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cp.Step).To(Equal(1))
			Expect(cp.NextNode).To(Equal("review"))
		})

		It("keeps state fields as raw JSON for rehydration", func() {
			saver := driver.Saver()
			Expect(saver.Put(ctx, saverCheckpoint(0, "generate", nil))).To(Succeed())

			cp, err := saver.Latest(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())

			raw, ok := cp.State["topic"].(json.RawMessage)
			Expect(ok).To(BeTrue())
			Expect(string(raw)).To(Equal(`"hello"`))
		})

		It("round-trips the interrupt", func() {
			saver := driver.Saver()
			intr := &graph.Interrupt{Node: "review", Payload: map[string]any{"draft": "v1"}}
			Expect(saver.Put(ctx, saverCheckpoint(2, "review", intr))).To(Succeed())

			cp, err := saver.Latest(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cp.Interrupt).NotTo(BeNil())
			Expect(cp.Interrupt.Node).To(Equal("review"))
		})

		It("replaces a checkpoint at the same step", func() {
			saver := driver.Saver()
			Expect(saver.Put(ctx, saverCheckpoint(0, "generate", nil))).To(Succeed())
			Expect(saver.Put(ctx, saverCheckpoint(0, "review", nil))).To(Succeed())

			cps, err := driver.History(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cps).To(HaveLen(1))
			Expect(cps[0].NextNode).To(Equal("review"))
		})

		It("returns checkpoint history oldest first", func() {
			saver := driver.Saver()
			for step := 0; step < 3; step++ {
				Expect(saver.Put(ctx, saverCheckpoint(step, "generate", nil))).To(Succeed())
			}

			cps, err := driver.History(ctx, "t1")
			Expect(err).NotTo(HaveOccurred())
			Expect(cps).To(HaveLen(3))
			Expect(cps[0].Step).To(Equal(0))
			Expect(cps[2].Step).To(Equal(2))
		})

		It("returns ErrNoCheckpoint for unknown threads", func() {
			_, err := driver.Saver().Latest(ctx, "missing")
			Expect(err).To(MatchError(graph.ErrNoCheckpoint))
		})
	})

	Describe("end to end through the history manager", func() {
		It("persists a conversation", func() {
			mgr := history.NewManager(driver, driver)

			thread, err := mgr.CreateThread(ctx, "persistence")
			Expect(err).NotTo(HaveOccurred())

			_, err = mgr.Append(ctx, thread.ID,
				chat.NewMessage(chat.RoleUser, "hello"),
				chat.NewMessage(chat.RoleAssistant, "hi there"),
			)
			Expect(err).NotTo(HaveOccurred())

			msgs, err := mgr.History(ctx, thread.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[0].Text()).To(Equal("hello"))
			Expect(msgs[1].Text()).To(Equal("hi there"))
		})
	})
})
