// Package flux implements an image-only backend for Black Forest Labs Flux.
//
// Generation is asynchronous: the submit call returns a polling_url which is
// polled until the task reports Ready. Reference images map to the
// input_image, input_image_2, ... fields accepted by the kontext and
// flux-2 models.
package flux
