package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadflow/internal/service"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

type AccountHandler struct {
	as service.AccountService
}

func NewAccountHandler(as service.AccountService) *AccountHandler {
	return &AccountHandler{as: as}
}

func (h *AccountHandler) ListSocialAccounts(c *fiber.Ctx) error {
	userID := GetUserID(c)

	accountList, err := h.as.List(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusOK).JSON(accountList)
}

func (h *AccountHandler) SetActiveAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var req transfer.ActiveAccountUpdate
	if err := c.BodyParser(&req); err != nil || req.AccountID == 0 {
		return badRequest(c, "Missing account id")
	}

	if err := h.as.SetActive(c.Context(), userID, GetEmail(c), req.AccountID); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}

func (h *AccountHandler) DeleteSocialAccount(c *fiber.Ctx) error {
	userID := GetUserID(c)
	accountId := c.QueryInt("id", 0)

	if err := h.as.Disconnect(c.Context(), userID, int64(accountId)); err != nil {
		return respondError(c, err)
	}

	return c.SendStatus(fiber.StatusOK)
}
