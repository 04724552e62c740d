package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/threadflow/internal/service"
	"github.com/maheshrc27/threadflow/internal/transfer"
)

type SettingsHandler struct {
	s     service.SettingsService
	slots service.SlotService
	as    service.AccountService
}

func NewSettingsHandler(service service.SettingsService, slots service.SlotService, accounts service.AccountService) *SettingsHandler {
	return &SettingsHandler{s: service, slots: slots, as: accounts}
}

func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	userID := GetUserID(c)

	settings, err := h.s.Get(c.Context(), userID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(settings)
}

func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	userID := GetUserID(c)

	var su transfer.SettingsUpdate
	if err := c.BodyParser(&su); err != nil {
		return badRequest(c, "Unable to parse json")
	}

	settings, err := h.s.Update(c.Context(), userID, &su)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(settings)
}

// NextSlot previews the slot the next queued thread would take.
func (h *SettingsHandler) NextSlot(c *fiber.Ctx) error {
	userID := GetUserID(c)

	account, err := h.as.Resolve(c.Context(), userID, GetEmail(c), int64(c.QueryInt("account_id", 0)))
	if err != nil {
		return respondError(c, err)
	}

	next, err := h.slots.NextSlot(c.Context(), userID, account.ID)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(transfer.SlotPreview{AccountID: account.ID, Next: next.UTC()})
}
