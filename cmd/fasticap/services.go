package main

import (
	"strconv"

	"github.com/valyala/fasticap"
)

// newServiceMux returns the services exposed by the command:
//
//   - /echo answers REQMOD and RESPMOD with a copy of the encapsulated
//     message and its decoded body.
//   - /nomod always answers 204 without reading the body past the preview.
func newServiceMux(cfg *config) (*fasticap.ServiceMux, error) {
	var optionsHeader fasticap.Header
	optionsHeader.Set("Preview", strconv.Itoa(cfg.Preview))
	optionsHeader.Set("Max-Connections", strconv.Itoa(cfg.MaxConnections))

	echo := &fasticap.Service{
		Path: "/echo",
		Name: "echo",
		Reqmod: func(req *fasticap.Request) (*fasticap.Response, error) {
			return req.ModifyHTTPRequest(true)
		},
		Respmod: func(req *fasticap.Request) (*fasticap.Response, error) {
			return req.ModifyHTTPResponse(true)
		},
	}
	optionsHeader.CopyTo(&echo.OptionsHeader)

	unmodified := func(req *fasticap.Request) (*fasticap.Response, error) {
		return req.Unmodified(), nil
	}
	nomod := &fasticap.Service{
		Path:    "/nomod",
		Name:    "nomod",
		Reqmod:  unmodified,
		Respmod: unmodified,
	}
	optionsHeader.CopyTo(&nomod.OptionsHeader)

	return fasticap.NewServiceMux(echo, nomod)
}
