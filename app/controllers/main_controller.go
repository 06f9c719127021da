package controllers

import "github.com/gofiber/fiber/v2"

// HandleStart answers the health check.
func HandleStart(c *fiber.Ctx) error {
	return c.SendString("paycore is running")
}
