// Package main provides yuvprobe, a command-line tool that opens a raw YUV
// file, buffers a frame range and reports what it found.
//
// # Usage
//
// Open a file whose name carries its geometry and buffer every frame:
//
//	yuvprobe -input Kimono_1920x1080_24fps_yuv420p10le.yuv
//
// Give the geometry explicitly, buffer frames 100 to 199 and save frame 150:
//
//	yuvprobe -input capture.bin -size 1280x720 -format yuv422p -range 100:199 \
//	    -frame 150 -png frame150.png
//
// Save the handle state and reopen it later without probing:
//
//	yuvprobe -input clip_352x288.yuv -snapshot clip.yaml
//	yuvprobe -restore clip.yaml
//
// Compare two encodes of the same sequence:
//
//	yuvprobe -input a_1920x1080.yuv -diff b_1920x1080.yuv -png diff.png
//
// # Exit Codes
//
// yuvprobe exits with 1 on configuration or open errors, with 2 when frames
// failed to load, and with 0 otherwise.
package main
