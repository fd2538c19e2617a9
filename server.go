package main

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const NPM_NOTICE = "update to the newest npm client for improved search results: npmjs.com/get-npm"

// NewServer builds the read path:
//
//	GET /-/ping     liveness, answers like the npm registry does
//	GET /-/...      406, search and other registry APIs are not mirrored
//	GET /<name>     cached registry entry, populated from upstream on a miss
func NewServer(mirror *RegistryMirror, sugar *zap.SugaredLogger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(requestLogger(sugar))

	e.GET("/-/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{})
	})
	e.GET("/-/*", func(c echo.Context) error {
		c.Response().Header().Set("npm-notice", NPM_NOTICE)
		return c.NoContent(http.StatusNotAcceptable)
	})
	e.GET("/*", packageHandler(mirror, sugar))
	return e
}

func packageHandler(mirror *RegistryMirror, sugar *zap.SugaredLogger) echo.HandlerFunc {
	return func(c echo.Context) error {
		packageName, err := url.PathUnescape(c.Param("*"))
		if err != nil || validatePackageName(packageName) != nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		text, err := mirror.Package(packageName).GetOrPopulate(c.Request().Context())
		if err != nil {
			sugar.Errorf("error serving %s: %v", packageName, err)
			var statusErr *UpstreamStatusError
			if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
				return echo.NewHTTPError(http.StatusNotFound, "package not found upstream")
			}
			return echo.NewHTTPError(http.StatusBadGateway, "unable to retrieve registry entry")
		}
		return c.Blob(http.StatusOK, NPM_INSTALL_CONTENT_TYPE, []byte(text))
	}
}

// requestLogger writes one access log line per request, leveled by status.
func requestLogger(sugar *zap.SugaredLogger) echo.MiddlewareFunc {
	const msg = "%s %s status=%d latency=%s ip=%s"
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			flds := []interface{}{req.Method, req.RequestURI, res.Status, time.Since(start), c.RealIP()}
			switch {
			case res.Status >= 500:
				sugar.Errorf(msg, flds...)
			case res.Status >= 400:
				sugar.Warnf(msg, flds...)
			default:
				sugar.Infof(msg, flds...)
			}
			return nil
		}
	}
}
