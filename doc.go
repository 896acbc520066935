/*
Package sdm fits facial landmarks with a cascade of linear regressors
learned by the supervised descent method.

A model holds a mean shape, normalised to the [-0.5, 0.5] square, and a
sequence of regression stages. Fitting places the mean shape into the image,
either inside a face box or by a similarity transform onto a few known
landmarks, then lets every stage extract descriptors around the current
points and apply the linear update predicted from them.

The package provides a command line interface which fits single images,
pipes and whole directory trees. To check the supported commands type:

	$ sdm --help

In case you wish to integrate the API in a self constructed environment here is a simple example:

	package main

	import (
		"context"
		"fmt"

		"github.com/esimov/sdm"
	)

	func main() {
		model, err := sdm.Load("face_landmarks_model.yaml")
		if err != nil {
			panic(err)
		}
		shape, err := sdm.FitFromBox(context.Background(), model, gray, sdm.Box{X: 100, Y: 50, Width: 200, Height: 200})
		if err != nil {
			fmt.Printf("Error fitting the landmarks: %s", err.Error())
			return
		}
		landmarks, _ := sdm.ToLandmarks(model, shape)
		for _, lm := range landmarks.Landmarks() {
			fmt.Println(lm.Name, lm.X(), lm.Y())
		}
	}
*/
package sdm
