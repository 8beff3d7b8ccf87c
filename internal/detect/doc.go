// Package detect finds cartographic elements in raster map images.
//
// The pipeline depends only on the Detector capability contract; concrete
// detection backends plug in behind it. Two backends ship with the service: a
// pure-Go heuristic detector built on edge and contour analysis, and a YOLO
// detector running through ONNX Runtime. The Adapter wraps either backend with
// the service's confidence floor and call timeout, and translates backend
// failures into ErrUnavailable so the orchestrator can distinguish "nothing
// found" from "detector down".
package detect
