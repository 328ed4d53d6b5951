// Package pipeline provides the stage handlers the workflow manager
// drives: prepare (validate the request and upload its inputs), generate
// (queue the prompt and watch it execute), and collect (persist and
// package the outputs).
package pipeline
