// Package vector defines the typed vector value model and the operation
// kernels used by this project. It includes:
//   - Vector: immutable float32/int8/bit values with validated dimensions
//   - Parsing from JSON text, raw payloads, and tagged SQL blobs
//   - Distance kernels (L2, cosine, hamming) with float64 accumulation
//   - Elementwise arithmetic, slicing, normalization, and quantization
//   - The error taxonomy shared by every consumer of vector values
package vector
