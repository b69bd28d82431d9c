package controller

import jsoniter "github.com/json-iterator/go"

var jsonCodec = jsoniter.Config{EscapeHTML: false, SortMapKeys: true}.Froze()
