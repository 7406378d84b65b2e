package server

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/papercomputeco/loom/pkg/history"
	"github.com/papercomputeco/loom/pkg/merkle"
)

// handleDAGStats returns summary statistics about the node store.
func (s *Server) handleDAGStats(c *fiber.Ctx) error {
	nodes, err := s.storer.List(c.Context())
	if err != nil {
		s.logger.Error("failed to list nodes", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list nodes",
		})
	}

	roots, err := s.storer.Roots(c.Context())
	if err != nil {
		s.logger.Error("failed to list roots", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list roots",
		})
	}

	leaves, err := s.storer.Leaves(c.Context())
	if err != nil {
		s.logger.Error("failed to list leaves", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to list leaves",
		})
	}

	return c.JSON(fiber.Map{
		"total_nodes": len(nodes),
		"roots":       len(roots),
		"leaves":      len(leaves),
	})
}

// handleGetNode returns a single node by hash.
func (s *Server) handleGetNode(c *fiber.Ctx) error {
	hash := c.Params("hash")

	node, err := s.storer.Get(c.Context(), hash)
	if err != nil {
		if merkle.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "node not found",
			})
		}
		s.logger.Error("failed to get node", zap.String("hash", hash), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to get node",
		})
	}

	return c.JSON(node)
}

type ingestNodesResult struct {
	New       int      `json:"new"`
	Duplicate int      `json:"duplicate"`
	Errors    []string `json:"errors,omitempty"`
}

// handleIngestNodes accepts a batch of nodes from a peer and stores
// them. Content addressing makes this idempotent: replayed nodes
// count as duplicates.
func (s *Server) handleIngestNodes(c *fiber.Ctx) error {
	var nodes []*merkle.Node
	if err := c.BodyParser(&nodes); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	var result ingestNodesResult
	for _, node := range nodes {
		fresh, err := s.storer.Put(c.Context(), node)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		if fresh {
			result.New++
		} else {
			result.Duplicate++
		}
	}

	s.logger.Info("ingested nodes",
		zap.Int("new", result.New),
		zap.Int("duplicate", result.Duplicate),
		zap.Int("errors", len(result.Errors)),
	)

	return c.JSON(result)
}

// handleIngestThreads accepts thread heads from a peer. A pushed head
// only replaces the local one when its chain is strictly deeper, so
// concurrent pushes converge on the longest history.
func (s *Server) handleIngestThreads(c *fiber.Ctx) error {
	var threads []history.Thread
	if err := c.BodyParser(&threads); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	updated := 0
	var errs []string
	for _, t := range threads {
		ok, err := s.mgr.AdoptHead(c.Context(), t)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if ok {
			updated++
		}
	}

	s.logger.Info("ingested threads",
		zap.Int("received", len(threads)),
		zap.Int("updated", updated),
		zap.Int("errors", len(errs)),
	)

	resp := fiber.Map{"received": len(threads), "updated": updated}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	return c.JSON(resp)
}
