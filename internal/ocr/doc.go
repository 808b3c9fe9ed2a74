// Package ocr parses document images and PDFs with a layout-aware
// vision-language model served behind an OpenAI-compatible endpoint.
package ocr
