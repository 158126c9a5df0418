// Package preview serves a live view of the recording over a local HTTP
// server: JPEG frames on a websocket plus a JSON status endpoint. The tap
// into the encode path never blocks: when a viewer or the JPEG encoder
// falls behind, frames are dropped, keeping the primary encode path clear.
package preview

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/kataras/golog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/halvore/screenrec/internal/record"
)

const (
	jpegQuality  = 70
	writeTimeout = 2 * time.Second
)

var (
	logger = golog.Child("[preview]")
	json   = jsoniter.ConfigCompatibleWithStandardLibrary
)

// Status is the payload of the status endpoint.
type Status struct {
	Pipeline   record.MetricsSnapshot `json:"pipeline"`
	CPUPercent float64                `json:"cpuPercent"`
	MemPercent float64                `json:"memPercent"`
	Viewers    int                    `json:"viewers"`
}

// Server fans captured frames out to websocket viewers.
type Server struct {
	router   *gin.Engine
	upgrader websocket.Upgrader
	metrics  func() record.MetricsSnapshot

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	frames chan *image.RGBA // single slot, latest wins
	quit   chan struct{}
	once   sync.Once
}

// New builds a preview server; metrics supplies the pipeline counters for
// the status endpoint.
func New(metrics func() record.MetricsSnapshot) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:   gin.New(),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		metrics:  metrics,
		clients:  make(map[*websocket.Conn]struct{}),
		frames:   make(chan *image.RGBA, 1),
		quit:     make(chan struct{}),
	}
	s.router.Use(gin.Recovery())
	s.router.GET("/api/status", s.handleStatus)
	s.router.GET("/ws/preview", s.handlePreview)
	go s.broadcastLoop()
	return s
}

// Handler exposes the HTTP handler for serving or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until the listener fails. Blocking.
func (s *Server) Run(addr string) error {
	logger.Infof("preview listening on %s", addr)
	return s.router.Run(addr)
}

// Offer hands a frame to the preview path. Never blocks: with no viewers it
// returns immediately, and a frame already waiting is replaced by the newer
// one. The image is copied, so the caller may release its texture after.
func (s *Server) Offer(img *image.RGBA) {
	if img == nil || s.viewerCount() == 0 {
		return
	}
	frame := cloneRGBA(img)
	for {
		select {
		case s.frames <- frame:
			return
		default:
			// Slot occupied by an older frame; evict it.
			select {
			case <-s.frames:
			default:
			}
		}
	}
}

// Close stops the broadcast loop and disconnects viewers.
func (s *Server) Close() {
	s.once.Do(func() { close(s.quit) })
	s.mu.Lock()
	for c := range s.clients {
		c.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()
}

func (s *Server) handleStatus(c *gin.Context) {
	status := Status{Viewers: s.viewerCount()}
	if s.metrics != nil {
		status.Pipeline = s.metrics()
	}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		status.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		status.MemPercent = vm.UsedPercent
	}
	body, err := json.Marshal(status)
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

func (s *Server) handlePreview(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("websocket upgrade: %v", err)
		return
	}
	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()
	logger.Debugf("viewer connected (%d total)", s.viewerCount())

	// Reader goroutine exists only to detect disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.drop(conn)
				return
			}
		}
	}()
}

func (s *Server) broadcastLoop() {
	for {
		select {
		case <-s.quit:
			return
		case frame := <-s.frames:
			s.broadcast(frame)
		}
	}
}

func (s *Server) broadcast(frame *image.RGBA) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		logger.Warnf("jpeg encode: %v", err)
		return
	}
	payload := buf.Bytes()

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			s.drop(c)
		}
	}
}

func (s *Server) drop(c *websocket.Conn) {
	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.Close()
	}
	s.mu.Unlock()
}

func (s *Server) viewerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	rect := src.Rect
	dst := image.NewRGBA(rect)
	rowBytes := rect.Dx() * 4
	for y := 0; y < rect.Dy(); y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+rowBytes], src.Pix[y*src.Stride:y*src.Stride+rowBytes])
	}
	return dst
}
