package wrapper

const version = "0.3.1"
