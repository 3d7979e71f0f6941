package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/neogan74/rentguard/internal/middleware"
	"github.com/neogan74/rentguard/internal/rental"
)

// CarHandler exposes the audited car catalog operations.
type CarHandler struct {
	service *rental.Service
}

func NewCarHandler(service *rental.Service) *CarHandler {
	return &CarHandler{service: service}
}

// List returns every car
// GET /api/cars
func (h *CarHandler) List(c *fiber.Ctx) error {
	cars := h.service.ListCars()
	return c.JSON(fiber.Map{
		"count": len(cars),
		"cars":  cars,
	})
}

// Get returns one car
// GET /api/cars/:id
func (h *CarHandler) Get(c *fiber.Ctx) error {
	car, err := h.service.FindCarByID(c.UserContext(), carID(c))
	if err != nil {
		return carError(c, err)
	}
	return c.JSON(car)
}

// Create registers a car
// POST /api/cars
func (h *CarHandler) Create(c *fiber.Ctx) error {
	var in rental.NewCar
	if err := c.BodyParser(&in); err != nil {
		return middleware.BadRequest(c, "invalid request body")
	}

	car, err := h.service.CreateCar(c.UserContext(), in)
	if err != nil {
		return carError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(car)
}

// UpdatePrice changes the daily price of a car
// PUT /api/cars/:id/price
func (h *CarHandler) UpdatePrice(c *fiber.Ctx) error {
	var body struct {
		DailyPrice *int64 `json:"dailyPrice"`
	}
	if err := c.BodyParser(&body); err != nil {
		return middleware.BadRequest(c, "invalid request body")
	}
	if body.DailyPrice == nil {
		return middleware.BadRequest(c, "dailyPrice is required")
	}

	car, err := h.service.UpdateCarPrice(c.UserContext(), rental.PriceChange{
		CarID:      carID(c),
		DailyPrice: *body.DailyPrice,
	})
	if err != nil {
		return carError(c, err)
	}
	return c.JSON(car)
}

// Delete removes a car
// DELETE /api/cars/:id
func (h *CarHandler) Delete(c *fiber.Ctx) error {
	car, err := h.service.DeleteCar(c.UserContext(), carID(c))
	if err != nil {
		return carError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "car deleted",
		"car":     car,
	})
}

func carError(c *fiber.Ctx, err error) error {
	switch {
	case rental.IsNotFound(err):
		return middleware.NotFound(c, err.Error())
	case errors.Is(err, rental.ErrInvalidCar):
		return middleware.UnprocessableEntity(c, err.Error())
	default:
		return middleware.InternalServerError(c, err.Error())
	}
}

// carID copies the path id; audited operations keep it past the request.
func carID(c *fiber.Ctx) string {
	return utils.CopyString(c.Params("id"))
}
