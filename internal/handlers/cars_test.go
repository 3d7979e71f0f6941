package handlers

import (
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neogan74/rentguard/internal/audit"
	"github.com/neogan74/rentguard/internal/logger"
	"github.com/neogan74/rentguard/internal/middleware"
	"github.com/neogan74/rentguard/internal/rental"
)

func setupCarTestApp(t *testing.T) (*fiber.App, *testAuth, *audit.MemoryStore) {
	t.Helper()
	auth := newTestAuth(t)
	store := audit.NewMemoryStore(0)
	ic := audit.NewInterceptor(directRecorder{store: store}, logger.NewNop())
	handler := NewCarHandler(rental.NewService(rental.NewCatalog(), ic))

	app := fiber.New()
	auth.use(app)
	cars := app.Group("/api/cars")
	cars.Get("/", handler.List)
	cars.Get("/:id", handler.Get)
	admin := middleware.RequireAuthority("ROLE_ADMIN")
	cars.Post("/", admin, handler.Create)
	cars.Put("/:id/price", admin, handler.UpdatePrice)
	cars.Delete("/:id", admin, handler.Delete)
	return app, auth, store
}

func TestCars_LifecycleIsAudited(t *testing.T) {
	app, auth, store := setupCarTestApp(t)
	alice := auth.bearer(t, "alice")

	status, car := doJSON(t, app, "POST", "/api/cars", alice,
		rental.NewCar{Model: "Skoda Octavia", Plate: "AB-123", DailyPrice: 4500})
	require.Equal(t, fiber.StatusCreated, status)
	id := fmt.Sprint(car["id"])
	assert.Equal(t, "1", id)

	status, got := doJSON(t, app, "GET", "/api/cars/"+id, "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "AB-123", got["plate"])

	status, updated := doJSON(t, app, "PUT", "/api/cars/"+id+"/price", alice, map[string]int64{"dailyPrice": 5000})
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(5000), updated["dailyPrice"])

	status, list := doJSON(t, app, "GET", "/api/cars", "", nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(1), list["count"])

	status, _ = doJSON(t, app, "DELETE", "/api/cars/"+id, alice, nil)
	require.Equal(t, fiber.StatusOK, status)

	records := store.All()
	require.Len(t, records, 4)

	assert.Equal(t, "createCar", records[0].Operation)
	assert.Equal(t, audit.ActionCreate, records[0].ActionType)
	assert.Equal(t, "1", records[0].EntityID)
	assert.Equal(t, "alice", records[0].ActorID)
	assert.Equal(t, "POST", records[0].RequestMethod)
	assert.Equal(t, "plate=AB-123", records[0].AdditionalInfo)

	assert.Equal(t, "findCarById", records[1].Operation)
	assert.Equal(t, audit.SystemActor, records[1].ActorID)

	assert.Equal(t, "updateCarPrice", records[2].Operation)
	assert.Equal(t, audit.ActionUpdate, records[2].ActionType)
	assert.Contains(t, records[2].BeforeState, `"dailyPrice":4500`)
	assert.Contains(t, records[2].AfterState, `"dailyPrice":5000`)

	assert.Equal(t, "deleteCar", records[3].Operation)
	assert.Equal(t, audit.ActionDelete, records[3].ActionType)
	assert.Equal(t, audit.OutcomeSuccess, records[3].Outcome)

	for _, r := range records {
		assert.NotEmpty(t, r.SessionID)
		assert.Equal(t, "0.0.0.0", r.ClientAddress)
	}
}

func TestCars_Errors(t *testing.T) {
	app, auth, store := setupCarTestApp(t)
	alice := auth.bearer(t, "alice")
	bob := auth.bearer(t, "bob")

	status, _ := doJSON(t, app, "GET", "/api/cars/42", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)

	status, body := doJSON(t, app, "POST", "/api/cars", alice,
		rental.NewCar{Model: "Fiat", Plate: "bad plate", DailyPrice: 100})
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	assert.Contains(t, body["message"], "invalid plate format")

	status, _ = doJSON(t, app, "PUT", "/api/cars/42/price", alice, map[string]int64{})
	assert.Equal(t, fiber.StatusBadRequest, status)

	status, _ = doJSON(t, app, "POST", "/api/cars", bob, rental.NewCar{Model: "Fiat", Plate: "X-1"})
	assert.Equal(t, fiber.StatusForbidden, status)

	status, _ = doJSON(t, app, "DELETE", "/api/cars/1", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	// Rejected by authorization: never reached the audited operation.
	records := store.All()
	require.Len(t, records, 2)
	assert.Equal(t, audit.OutcomeFailure, records[0].Outcome)
	assert.Equal(t, "car '42' not found", records[0].ErrorMessage)
	assert.Equal(t, audit.OutcomeFailure, records[1].Outcome)
}
