package main

// General API documentation for swaggo. Run `make swagger-gen` to regenerate docs.
//
// @title           sessiond API
// @version         1.0
// @description     Local LLM session manager: one resident model, serialized prompt, chat and embedding sessions.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
