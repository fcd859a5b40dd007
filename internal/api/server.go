// Package api диагностический HTTP-сервер клиента: здоровье, состояние
// модели и индекса интереса, метрики Prometheus.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/mmo-overlay/internal/eventbus"
	"github.com/annel0/mmo-overlay/internal/interest"
	"github.com/annel0/mmo-overlay/internal/logging"
	"github.com/annel0/mmo-overlay/internal/middleware"
	"github.com/annel0/mmo-overlay/internal/model"
)

// Source состояние клиента, которое показывает сервер
type Source interface {
	Factory() *model.Factory
	Index() *interest.Index
}

// JournalStats номер последней записи журнала
type JournalStats interface {
	Last() uint64
}

// Config содержит зависимости диагностического сервера
type Config struct {
	Addr    string // адрес прослушивания, по умолчанию ":8089"
	Source  Source
	Bus     eventbus.EventBus // опционально
	Journal JournalStats      // опционально
	Logger  *logging.Logger

	// Регистр HTTP-метрик; nil означает дефолтный регистр
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server диагностический REST сервер
type Server struct {
	router  *gin.Engine
	cfg     Config
	metrics *ProcessMetrics
	logger  *logging.Logger

	srv *http.Server
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// NewServer создает сервер и настраивает маршруты
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8089"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("overlay_api"))
	router.Use(middleware.NewRequestLogger(logger).Handler())

	promMw := middleware.NewPrometheusMiddleware("overlay_api", cfg.Registerer, cfg.Gatherer)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	s := &Server{
		router:  router,
		cfg:     cfg,
		metrics: NewProcessMetrics(),
		logger:  logger,
	}
	s.srv = &http.Server{Handler: router, ReadHeaderTimeout: 5 * time.Second}
	s.setupRoutes()
	return s
}

// Handler корневой http.Handler, для тестов
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	api.GET("/stats", s.handleStats)
	api.GET("/context", s.handleContext)
	api.GET("/objects", s.handleObjects)
	api.GET("/objects/:id", s.handleObject)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	stats := map[string]interface{}{
		"process": s.metrics.Snapshot(),
	}
	if src := s.cfg.Source; src != nil {
		f := src.Factory()
		stats["objects"] = f.Len()
		stats["pending_keys"] = f.Registry().Pending()
		stats["interest"] = src.Index().Stats()
	}
	if s.cfg.Bus != nil {
		stats["eventbus"] = s.cfg.Bus.Metrics()
	}
	if s.cfg.Journal != nil {
		stats["journal_last_seq"] = s.cfg.Journal.Last()
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data:    stats,
	})
}

// contextView ячейки контекста с объектами по категориям. InContext
// плоский список объектов контекста, отфильтрованный ?category=
type contextView struct {
	Cells     []interest.CellID                       `json:"cells"`
	Objects   map[string]map[interest.CellID][]string `json:"objects"`
	InContext []string                                `json:"in_context"`
}

func (s *Server) handleContext(c *gin.Context) {
	if s.cfg.Source == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Клиент не подключен"})
		return
	}
	mask, ok := interest.ParseCategory(c.Query("category"))
	if !ok {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неизвестная категория: " + c.Query("category")})
		return
	}
	idx := s.cfg.Source.Index()
	cells := idx.Context()

	view := contextView{Cells: cells, Objects: make(map[string]map[interest.CellID][]string)}
	for _, cat := range []interest.Category{
		interest.CategoryObject, interest.CategoryItem, interest.CategoryContainer,
		interest.CategoryActor, interest.CategoryPlayer,
	} {
		byCell := make(map[interest.CellID][]string)
		for _, cell := range cells {
			refs := idx.RefsIn([]interest.CellID{cell}, cat)
			if len(refs) == 0 {
				continue
			}
			byCell[cell] = formatRefs(refs)
		}
		if len(byCell) > 0 {
			view.Objects[cat.String()] = byCell
		}
	}

	view.InContext = formatRefs(idx.Query(mask))

	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Контекст игрока", Data: view})
}

func formatRefs(refs []interest.Ref) []string {
	out := make([]string, len(refs))
	for i, ref := range refs {
		out[i] = fmt.Sprintf("%#08x", uint32(ref))
	}
	return out
}

// objectView снимок сетевого объекта
type objectView struct {
	ID        uint64            `json:"id"`
	Kind      string            `json:"kind"`
	Ref       string            `json:"ref"`
	Base      string            `json:"base"`
	Name      string            `json:"name,omitempty"`
	Cell      interest.CellID   `json:"cell"`
	GameCell  interest.CellID   `json:"game_cell"`
	Enabled   bool              `json:"enabled"`
	LockLevel uint32            `json:"lock_level"`
	Pos       [3]float64        `json:"pos"`
	Count     *uint32           `json:"count,omitempty"`
	Dead      *bool             `json:"dead,omitempty"`
	Values    map[uint8]float64 `json:"values,omitempty"`
}

func newObjectView(o *model.Object) objectView {
	pos := o.NetworkPos.Get()
	v := objectView{
		ID:        uint64(o.ID()),
		Kind:      o.Kind().String(),
		Ref:       fmt.Sprintf("%#08x", uint32(o.Ref())),
		Base:      fmt.Sprintf("%#08x", uint32(o.Base.Get())),
		Name:      o.Name.Get(),
		Cell:      o.NetworkCell.Get(),
		GameCell:  o.GameCell.Get(),
		Enabled:   o.Enabled.Get(),
		LockLevel: o.LockLevel.Get(),
		Pos:       [3]float64{pos.X, pos.Y, pos.Z},
	}
	if o.Item != nil {
		count := o.Item.Count.Get()
		v.Count = &count
	}
	if o.Actor != nil {
		dead := o.Actor.Dead.Get()
		v.Dead = &dead
		v.Values = o.Actor.Values.Snapshot()
	}
	return v
}

func (s *Server) handleObjects(c *gin.Context) {
	if s.cfg.Source == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Клиент не подключен"})
		return
	}
	all := s.cfg.Source.Factory().All()
	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })

	out := make([]objectView, 0, len(all))
	for _, o := range all {
		out = append(out, newObjectView(o))
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Объекты", Data: out})
}

func (s *Server) handleObject(c *gin.Context) {
	if s.cfg.Source == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{Message: "Клиент не подключен"})
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 0, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный идентификатор объекта"})
		return
	}
	o, ok := s.cfg.Source.Factory().Get(model.NetworkID(id))
	if !ok {
		c.JSON(http.StatusNotFound, GenericResponse{Message: "Объект не найден"})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Объект", Data: newObjectView(o)})
}

// Start слушает адрес и обслуживает запросы до Shutdown
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info("🚀 Диагностический API на %s", ln.Addr())

	if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown останавливает сервер, дожидаясь активных запросов
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("🛑 Остановка диагностического API")
	return s.srv.Shutdown(ctx)
}
