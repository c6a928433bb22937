package router

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
)

// New builds the HTTP engine. The bridge exposes only a liveness route;
// everything else it does rides on MQTT and the record store.
func New() *ginext.Engine {
	e := ginext.New()
	e.Use(ginext.Logger())
	e.Use(ginext.Recovery())

	e.GET("/", func(c *ginext.Context) {
		c.String(http.StatusOK, "feeder bridge active")
	})

	return e
}
