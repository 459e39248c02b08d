// Copyright 2025 The flowsteer Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package matchers contains gomock matchers shared by the tests.
package matchers

import (
	"fmt"
	"reflect"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// PartialStruct matches a struct of the same type as Target where all fields
// that are non-zero in Target are equal. Zero fields in Target are ignored.
// Pointer and non-pointer values never match each other.
type PartialStruct struct {
	Target any
}

func (m PartialStruct) Matches(x any) bool {
	want, got := reflect.ValueOf(m.Target), reflect.ValueOf(x)
	if want.Type() != got.Type() {
		return false
	}
	if want.Kind() == reflect.Pointer {
		if want.IsNil() || got.IsNil() {
			return want.IsNil() == got.IsNil()
		}
		want, got = want.Elem(), got.Elem()
	}
	if want.Kind() != reflect.Struct {
		return cmp.Equal(m.Target, x)
	}
	for i := 0; i < want.NumField(); i++ {
		if !want.Type().Field(i).IsExported() {
			continue
		}
		wf := want.Field(i)
		if wf.IsZero() {
			continue
		}
		if !cmp.Equal(wf.Interface(), got.Field(i).Interface(), cmpopts.EquateEmpty()) {
			return false
		}
	}
	return true
}

func (m PartialStruct) String() string {
	return fmt.Sprintf("partially matches %+v", m.Target)
}
