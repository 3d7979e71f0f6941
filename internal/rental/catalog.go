package rental

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/neogan74/rentguard/internal/audit"
)

// EntityName is the audit entity name of cars.
const EntityName = "Car"

// Car is a vehicle offered for rent. DailyPrice is in minor currency units.
type Car struct {
	ID         string    `json:"id"`
	Model      string    `json:"model"`
	Plate      string    `json:"plate"`
	DailyPrice int64     `json:"dailyPrice"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AuditID implements audit.Identifiable.
func (c Car) AuditID() (string, bool) {
	return c.ID, c.ID != ""
}

// NewCar is the input of CreateCar.
type NewCar struct {
	Model      string `json:"model"`
	Plate      string `json:"plate"`
	DailyPrice int64  `json:"dailyPrice"`
}

// PriceChange is the input of UpdateCarPrice.
type PriceChange struct {
	CarID      string `json:"carId"`
	DailyPrice int64  `json:"dailyPrice"`
}

// AuditID implements audit.Identifiable.
func (p PriceChange) AuditID() (string, bool) {
	return p.CarID, p.CarID != ""
}

// Catalog is the in-memory car collection.
type Catalog struct {
	mu     sync.RWMutex
	cars   map[string]Car
	nextID uint64
	now    func() time.Time
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		cars: make(map[string]Car),
		now:  time.Now,
	}
}

// Get returns the car with id.
func (c *Catalog) Get(id string) (Car, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	car, ok := c.cars[id]
	if !ok {
		return Car{}, &NotFoundError{ID: id}
	}
	return car, nil
}

// List returns all cars ordered by numeric id.
func (c *Catalog) List() []Car {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cars := make([]Car, 0, len(c.cars))
	for _, car := range c.cars {
		cars = append(cars, car)
	}
	sort.Slice(cars, func(i, j int) bool {
		a, _ := strconv.ParseUint(cars[i].ID, 10, 64)
		b, _ := strconv.ParseUint(cars[j].ID, 10, 64)
		return a < b
	})
	return cars
}

// Add stores a new car and assigns its id.
func (c *Catalog) Add(in NewCar) (Car, error) {
	if err := ValidateNewCar(in); err != nil {
		return Car{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	now := c.now().UTC()
	car := Car{
		ID:         strconv.FormatUint(c.nextID, 10),
		Model:      strings.TrimSpace(in.Model),
		Plate:      in.Plate,
		DailyPrice: in.DailyPrice,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	c.cars[car.ID] = car
	return car, nil
}

// SetPrice changes the daily price of a car.
func (c *Catalog) SetPrice(id string, price int64) (Car, error) {
	if err := ValidatePrice(price); err != nil {
		return Car{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	car, ok := c.cars[id]
	if !ok {
		return Car{}, &NotFoundError{ID: id}
	}
	car.DailyPrice = price
	car.UpdatedAt = c.now().UTC()
	c.cars[id] = car
	return car, nil
}

// Remove deletes a car and returns it.
func (c *Catalog) Remove(id string) (Car, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	car, ok := c.cars[id]
	if !ok {
		return Car{}, &NotFoundError{ID: id}
	}
	delete(c.cars, id)
	return car, nil
}

// Len returns the number of cars.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cars)
}

// Service exposes the catalog operations with audit capture.
type Service struct {
	catalog *Catalog

	findCarByID    func(context.Context, string) (Car, error)
	createCar      func(context.Context, NewCar) (Car, error)
	updateCarPrice func(context.Context, PriceChange) (Car, error)
	deleteCar      func(context.Context, string) (Car, error)
}

// NewService wraps every catalog operation with ic.
func NewService(catalog *Catalog, ic *audit.Interceptor) *Service {
	s := &Service{catalog: catalog}

	loadCar := audit.WithBeforeState(func(_ context.Context, id string) (any, error) {
		return catalog.Get(id)
	})
	carID := audit.WithEntityID(func(id string) string { return id })

	s.findCarByID = audit.Wrap(ic,
		audit.Operation{Name: "findCarById", Entity: EntityName, Description: "Look up a car"},
		func(_ context.Context, id string) (Car, error) {
			return catalog.Get(id)
		}, carID)

	s.createCar = audit.Wrap(ic,
		audit.Operation{Name: "createCar", Entity: EntityName, Description: "Register a car"},
		func(_ context.Context, in NewCar) (Car, error) {
			return catalog.Add(in)
		},
		audit.WithAdditionalInfo(func(in NewCar) string { return "plate=" + in.Plate }))

	s.updateCarPrice = audit.Wrap(ic,
		audit.Operation{Name: "updateCarPrice", Entity: EntityName, Description: "Change the daily price"},
		func(_ context.Context, in PriceChange) (Car, error) {
			return catalog.SetPrice(in.CarID, in.DailyPrice)
		}, loadCar)

	s.deleteCar = audit.Wrap(ic,
		audit.Operation{Name: "deleteCar", Entity: EntityName, Description: "Retire a car"},
		func(_ context.Context, id string) (Car, error) {
			return catalog.Remove(id)
		}, carID, loadCar)

	return s
}

func (s *Service) FindCarByID(ctx context.Context, id string) (Car, error) {
	return s.findCarByID(ctx, id)
}

func (s *Service) CreateCar(ctx context.Context, in NewCar) (Car, error) {
	return s.createCar(ctx, in)
}

func (s *Service) UpdateCarPrice(ctx context.Context, in PriceChange) (Car, error) {
	return s.updateCarPrice(ctx, in)
}

func (s *Service) DeleteCar(ctx context.Context, id string) (Car, error) {
	return s.deleteCar(ctx, id)
}

// ListCars is not audited.
func (s *Service) ListCars() []Car {
	return s.catalog.List()
}
