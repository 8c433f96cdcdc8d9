package analytics

import (
	"bytes"
	"image"
	"image/jpeg"
)

const jpegQuality = 75

func encodeGrayJPEG(gray []byte, width, height int) []byte {
	img := &image.Gray{Pix: gray, Stride: width, Rect: image.Rect(0, 0, width, height)}
	return encodeJPEG(img)
}

func encodeRGBJPEG(rgb []byte, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < width*height; i++ {
		img.Pix[i*4] = rgb[i*3]
		img.Pix[i*4+1] = rgb[i*3+1]
		img.Pix[i*4+2] = rgb[i*3+2]
		img.Pix[i*4+3] = 0xFF
	}
	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) []byte {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil
	}
	return buf.Bytes()
}
