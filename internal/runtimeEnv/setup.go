// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package runtimeEnv

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadEnv adds the variable definitions of a .env file to the process
// environment. A missing file is not an error; secrets like
// JWT_PUBLIC_KEY are simply expected in the environment then.
func LoadEnv(file string) error {
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(file)
}
