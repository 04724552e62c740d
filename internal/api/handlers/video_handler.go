package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadflow/internal/service"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

type VideoHandler struct {
	s service.VideoService
}

func NewVideoHandler(service service.VideoService) *VideoHandler {
	return &VideoHandler{s: service}
}

func (h *VideoHandler) SubmitVideo(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var vs transfer.VideoSubmission
	if err := c.BodyParser(&vs); err != nil {
		return badRequest(c, "Unable to parse json")
	}
	if vs.SourceURL == "" {
		return badRequest(c, "Missing source url")
	}

	job, err := h.s.Submit(c.Context(), userID, GetEmail(c), &vs)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(job)
}

func (h *VideoHandler) VideoStatus(c *fiber.Ctx) error {
	userID := GetUserID(c)

	job, err := h.s.Status(c.Context(), userID, c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(job)
}
