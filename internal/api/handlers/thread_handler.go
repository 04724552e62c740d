package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadflow/internal/service"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

type ThreadHandler struct {
	s service.ThreadService
}

func NewThreadHandler(service service.ThreadService) *ThreadHandler {
	return &ThreadHandler{s: service}
}

func (h *ThreadHandler) CreateThread(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var tc transfer.ThreadCreation
	if err := c.BodyParser(&tc); err != nil {
		return badRequest(c, "Unable to parse json")
	}

	thread, err := h.s.CreateThread(c.Context(), userID, GetEmail(c), &tc)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(thread)
}

func (h *ThreadHandler) UpdateThread(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var tc transfer.ThreadCreation
	if err := c.BodyParser(&tc); err != nil {
		return badRequest(c, "Unable to parse json")
	}

	thread, err := h.s.UpdateThread(c.Context(), userID, c.Params("id"), &tc)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(thread)
}

func (h *ThreadHandler) DeleteThread(c *fiber.Ctx) error {
	userID := GetUserID(c)

	if err := h.s.DeleteThread(c.Context(), userID, c.Params("id")); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ThreadHandler) GetThread(c *fiber.Ctx) error {
	userID := GetUserID(c)

	thread, err := h.s.GetThread(c.Context(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(thread)
}

func (h *ThreadHandler) ListThreads(c *fiber.Ctx) error {
	userID := GetUserID(c)

	threads, err := h.s.ListThreads(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(threads)
}

func (h *ThreadHandler) QueueThread(c *fiber.Ctx) error {
	userID := GetUserID(c)

	queued, err := h.s.QueueThread(c.Context(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(queued)
}

func (h *ThreadHandler) BulkQueue(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.BulkQueueRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Unable to parse json")
	}
	if len(req.ThreadIDs) == 0 {
		return badRequest(c, "No threads selected")
	}

	queued, err := h.s.BulkQueue(c.Context(), userID, &req)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(queued)
}

func (h *ThreadHandler) PublishNow(c *fiber.Ctx) error {
	userID := GetUserID(c)

	thread, err := h.s.PublishNow(c.Context(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(thread)
}
